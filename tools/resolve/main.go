package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"reelrelay/config"
	"reelrelay/internal/logging"
	"reelrelay/models"
	"reelrelay/services/resolver"
	"reelrelay/utils"
)

func main() {
	settingsPath := flag.String("config", "", "path to the JSON settings file")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: resolve [-config settings.json] <post-url>")
		os.Exit(1)
	}

	cfg, err := config.NewManager(*settingsPath).Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load settings:", err)
		os.Exit(1)
	}
	cfg.Logging.File = ""
	out, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logging:", err)
		os.Exit(1)
	}
	defer out.Close()

	id, err := utils.ExtractShortcode(flag.Arg(0), cfg.Media.AllowedDomains)
	if err != nil {
		fmt.Fprintln(os.Stderr, "extract shortcode:", err)
		os.Exit(2)
	}

	retrier := resolver.NewRetrier(resolver.NewHTTPClient(cfg.Resolver, out.Logger), cfg.Resolver, resolver.WithLogger(out.Logger))
	res, err := retrier.Resolve(context.Background(), models.ResolutionRequest{
		URL:       utils.CanonicalURL(cfg.Media.CanonicalURLTemplate, id),
		Shortcode: id,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve %s: %v\n%s\n", id, err, resolver.Hint(err))
		os.Exit(3)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
}
