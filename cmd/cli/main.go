package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hamed0406/sitewatch/internal/httpapi"
)

func main() {
	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}

	req, err := http.NewRequest(http.MethodGet, api+"/api/results/latest", nil)
	if err != nil {
		fmt.Println("Invalid API_BASE:", err)
		os.Exit(2)
	}
	if k := os.Getenv("API_KEY"); k != "" {
		req.Header.Set("X-API-Key", k)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("Error contacting API:", err)
		os.Exit(2)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Println("API returned status:", resp.Status)
		os.Exit(2)
	}

	var rows []httpapi.ResultView
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		fmt.Println("Bad response:", err)
		os.Exit(2)
	}

	failing := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tOUTCOME\tHTTP\tLATENCY\tCHECKED")
	for _, r := range rows {
		code := "-"
		if r.HTTPStatus != 0 {
			code = fmt.Sprint(r.HTTPStatus)
		}
		if !r.Healthy && r.Outcome != "count_changed" {
			failing++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f ms\t%s\n",
			r.TargetID, r.Signature, code, r.LatencyMS, r.CheckedAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()

	if failing > 0 {
		os.Exit(1)
	}
}
