// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/types/known/structpb"

	apiconnect "github.com/WieserchGT/BetaGamers/internal/api/connect"
)

var (
	app    = kingpin.New("musicbox-admincli", "Music bot admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Show every active guild")

	// skip command
	skipCmd   = app.Command("skip", "Skip the current track of a guild")
	skipGuild = skipCmd.Arg("guild-id", "Guild ID").Required().String()

	// stop command
	stopCmd   = app.Command("stop", "Stop the queue of a guild")
	stopGuild = stopCmd.Arg("guild-id", "Guild ID").Required().String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewAdminClient(http.DefaultClient, *server, *token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = status(ctx, client)
	case skipCmd.FullCommand():
		err = report(client.Skip(ctx, *skipGuild))
	case stopCmd.FullCommand():
		err = report(client.Stop(ctx, *stopGuild))
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func status(ctx context.Context, client *apiconnect.AdminClient) error {
	resp, err := client.GetStatus(ctx)
	if err != nil {
		return err
	}

	guilds := resp.GetFields()["guilds"].GetListValue().GetValues()
	fmt.Printf("\n=== ACTIVE GUILDS (%d) ===\n", len(guilds))
	for _, g := range guilds {
		printGuild(g.GetStructValue())
	}
	fmt.Println()
	return nil
}

func printGuild(g *structpb.Struct) {
	f := g.GetFields()
	str := func(key string) string { return f[key].GetStringValue() }

	fmt.Printf("\nGuild: %s\n", str("guild_id"))
	fmt.Printf("  Voice Channel: %s (%s, rejoins: %d)\n",
		str("voice_channel_id"), str("voice_state"), int(f["rejoin_attempts"].GetNumberValue()))
	fmt.Printf("  Player: %s\n", str("player_state"))
	fmt.Printf("  Volume: %d%% (muted: %v, loop: %v)\n",
		int(f["volume"].GetNumberValue()), f["muted"].GetBoolValue(), f["loop"].GetBoolValue())

	if np := f["now_playing"].GetStructValue(); np != nil {
		fmt.Printf("  Now Playing: %s\n", formatTrack(np))
	} else {
		fmt.Println("  No track currently playing")
	}

	tracks := f["tracks"].GetListValue().GetValues()
	fmt.Printf("  Queue (%d):\n", len(tracks))
	for i, t := range tracks {
		fmt.Printf("    %d. %s\n", i+1, formatTrack(t.GetStructValue()))
	}
}

func formatTrack(t *structpb.Struct) string {
	f := t.GetFields()
	s := fmt.Sprintf("%s (%s)", f["title"].GetStringValue(), f["duration"].GetStringValue())
	if r := f["requester"].GetStringValue(); r != "" {
		s += " requested by " + r
	}
	return s
}

func report(success bool, message string, err error) error {
	if err != nil {
		return err
	}
	if success {
		fmt.Println(message)
	} else {
		fmt.Printf("Failed: %s\n", message)
	}
	return nil
}
