package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	serverURL      string
	apiKey         string
	name           string
	description    string
	channel        string
	resultType     string
	typespecJSON   string
	startTimestamp int64
)

func main() {
	root := &cobra.Command{
		Use:   "xyz-cli",
		Short: "CLI client for the XYZ layer registry",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("XYZ_API_KEY"), "API key")

	createCmd := &cobra.Command{
		Use:   "create [graft-file]",
		Short: "Register a computation definition from a graft file (or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCreate,
	}
	createCmd.Flags().StringVar(&name, "name", "", "Display name")
	createCmd.Flags().StringVar(&description, "description", "", "Description")
	createCmd.Flags().StringVar(&channel, "channel", "v1", "Serving channel")
	createCmd.Flags().StringVarP(&resultType, "type", "t", "RASTER", "Result type (RASTER, VECTOR, SCALAR, TABLE)")
	createCmd.Flags().StringVar(&typespecJSON, "typespec", "", `Structured typespec JSON, e.g. '{"type":"Image"}'`)
	root.AddCommand(createCmd)

	root.AddCommand(&cobra.Command{
		Use:   "get [id]",
		Short: "Fetch a computation definition",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	})

	errorsCmd := &cobra.Command{
		Use:   "errors [xyz-id] [session-id]",
		Short: "Tail the error stream of a session",
		Args:  cobra.ExactArgs(2),
		RunE:  runErrors,
	}
	errorsCmd.Flags().Int64Var(&startTimestamp, "start-timestamp", 0, "Replay from this timestamp (epoch ms)")
	root.AddCommand(errorsCmd)

	root.AddCommand(&cobra.Command{
		Use:   "complete [xyz-id] [session-id]",
		Short: "Mark a session terminated",
		Args:  cobra.ExactArgs(2),
		RunE:  runComplete,
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCreate(cmd *cobra.Command, args []string) error {
	var graft []byte
	var err error

	if len(args) > 0 {
		graft, err = os.ReadFile(args[0])
	} else {
		graft, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading graft: %w", err)
	}

	xyzObj := map[string]any{
		"name":             name,
		"description":      description,
		"type":             resultType,
		"channel":          channel,
		"serialized_graft": string(graft),
	}
	if typespecJSON != "" {
		var ts json.RawMessage
		if err := json.Unmarshal([]byte(typespecJSON), &ts); err != nil {
			return fmt.Errorf("parsing --typespec: %w", err)
		}
		xyzObj["typespec"] = ts
	}

	body, err := postJSON("/v1/xyz", map[string]any{"xyz": xyzObj})
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runGet(cmd *cobra.Command, args []string) error {
	body, err := getJSON("/v1/xyz/" + args[0])
	if err != nil {
		return err
	}
	return printJSON(body)
}

// runErrors tails the SSE stream, printing one line per record until the
// session completes or the stream fails.
func runErrors(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/v1/xyz/%s/sessions/%s/errors?start_timestamp=%d",
		serverURL, args[0], args[1], startTimestamp)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	setAuth(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	codeColor := map[string]*color.Color{
		"TIMEOUT":    color.New(color.FgYellow),
		"OOM":        color.New(color.FgRed),
		"INVALID":    color.New(color.FgRed),
		"TERMINATED": color.New(color.FgMagenta),
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "error":
				var rec struct {
					Code      string `json:"code"`
					Message   string `json:"message"`
					Timestamp int64  `json:"timestamp"`
				}
				if err := json.Unmarshal([]byte(data), &rec); err != nil {
					fmt.Fprintln(os.Stderr, "bad record:", data)
					continue
				}
				c, ok := codeColor[rec.Code]
				if !ok {
					c = color.New(color.FgWhite)
				}
				fmt.Printf("%d  %s  %s\n", rec.Timestamp, c.Sprint(rec.Code), rec.Message)
			case "done":
				color.Green("session completed")
				return nil
			case "stream_error":
				return fmt.Errorf("stream failed: %s", data)
			}
		}
	}
	return scanner.Err()
}

func runComplete(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/v1/xyz/%s/sessions/%s/complete", args[0], args[1])
	body, err := postJSON(path, map[string]any{})
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runHealth(cmd *cobra.Command, args []string) error {
	body, err := getJSON("/health")
	if err != nil {
		return err
	}
	return printJSON(body)
}

func postJSON(path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req)
	return doRequest(req)
}

func getJSON(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return nil, err
	}
	setAuth(req)
	return doRequest(req)
}

func doRequest(req *http.Request) ([]byte, error) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, responseError(resp)
	}
	return io.ReadAll(resp.Body)
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s (%s)", e.Error, e.Code)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}

func setAuth(req *http.Request) {
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
}

func printJSON(body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
