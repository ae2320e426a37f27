package main

import (
	"net/url"

	"github.com/spf13/cobra"
)

var qualitiesFormat string

var qualitiesCmd = &cobra.Command{
	Use:   "qualities <url>",
	Short: "List the quality options available for a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		q.Set("url", args[0])
		q.Set("format", firstSet(qualitiesFormat, cfg.Format))
		var l listingView
		if err := client.getJSON("/qualities?"+q.Encode(), &l); err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), l)
		}
		printListing(cmd.OutOrStdout(), l)
		return nil
	},
}

var playlistPage string

var playlistCmd = &cobra.Command{
	Use:   "playlist <playlist_id>",
	Short: "List one page of a playlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/playlists/" + url.PathEscape(args[0]) + "/items"
		if playlistPage != "" {
			path += "?pageToken=" + url.QueryEscape(playlistPage)
		}
		var p playlistPageView
		if err := client.getJSON(path, &p); err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), p)
		}
		printPlaylist(cmd.OutOrStdout(), p)
		return nil
	},
}

func init() {
	qualitiesCmd.Flags().StringVarP(&qualitiesFormat, "format", "f", "", "video | audio")
	playlistCmd.Flags().StringVar(&playlistPage, "page", "", "page token from a previous call")
}
