package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// ExportCmd fetches a session's quiz export from a running server and
// prints it to stdout.
type ExportCmd struct {
	SessionID string `arg:"" help:"Session to export."`

	Addr                string `help:"Server base URL." default:"http://localhost:8080"`
	MaxQuestions        int    `help:"Cap the number of exported questions."`
	Seed                int64  `help:"Shuffle seed; implies --randomize."`
	Randomize           bool   `help:"Shuffle question order."`
	Deduplicate         bool   `help:"Drop repeated question texts."`
	Difficulty          string `help:"Keep only questions of this difficulty."`
	IncludeExplanations bool   `help:"Include explanations in the metadata."`
}

func (c *ExportCmd) Run(cli *CLI) error {
	if _, err := cli.loadConfig(); err != nil {
		return err
	}

	query := url.Values{}
	if c.MaxQuestions > 0 {
		query.Set("maxQuestions", strconv.Itoa(c.MaxQuestions))
	}
	if c.Randomize || c.Seed != 0 {
		query.Set("randomize", "true")
	}
	if c.Seed != 0 {
		query.Set("seed", strconv.FormatInt(c.Seed, 10))
	}
	if c.Deduplicate {
		query.Set("deduplicate", "true")
	}
	if c.Difficulty != "" {
		query.Set("difficulty", c.Difficulty)
	}
	if c.IncludeExplanations {
		query.Set("includeExplanations", "true")
	}

	endpoint := fmt.Sprintf("%s/api/quiz/export/%s", c.Addr, url.PathEscape(c.SessionID))
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("export request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read export response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("export failed with status %d: %s", resp.StatusCode, body)
	}

	_, err = os.Stdout.Write(body)
	return err
}
