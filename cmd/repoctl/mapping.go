package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var mapSpecFile string

var mapCmd = &cobra.Command{
	Use:   "map <spec-name> <payload-json>",
	Short: "Map a device payload through a registered specification",
	Long: `Maps a raw device payload through a mapping specification registered on
the server and prints the resulting document.

With --register, the specification is first uploaded from the given file.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		specName := args[0]

		if mapSpecFile != "" {
			raw, err := os.ReadFile(mapSpecFile)
			if err != nil {
				return fmt.Errorf("read specification file: %w", err)
			}
			var spec map[string]any
			if err := json.Unmarshal(raw, &spec); err != nil {
				return fmt.Errorf("parse specification file: %w", err)
			}
			if err := client.do(http.MethodPut, "/api/v1/mapping/specs/"+specName, spec, nil); err != nil {
				return err
			}
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return fmt.Errorf("parse payload: %w", err)
		}

		var result map[string]any
		if err := client.do(http.MethodPost, "/api/v1/mapping/specs/"+specName+"/map", payload, &result); err != nil {
			return err
		}
		pretty, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(pretty))
		return nil
	},
}

func init() {
	mapCmd.Flags().StringVar(&mapSpecFile, "register", "", "Register the specification from this JSON file before mapping")
}
