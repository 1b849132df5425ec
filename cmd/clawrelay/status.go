package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/roelfdiedericks/clawrelay/internal/httpapi"
)

// StatusCmd asks a running gateway for its surface status.
type StatusCmd struct {
	URL  string `help:"Status endpoint (default: from http.listen in the config)"`
	JSON bool   `help:"Print the raw JSON"`
}

func (c *StatusCmd) Run(g *Globals) error {
	cfg, _, err := loadConfig(g)
	if err != nil {
		return err
	}
	url := c.URL
	if url == "" {
		if !cfg.HTTP.Enabled {
			return fmt.Errorf("http is disabled in the config; pass --url")
		}
		url = "http://" + cfg.HTTP.Listen + "/status"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if cfg.HTTP.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.HTTP.Token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway not reachable: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status: %s", resp.Status)
	}
	if c.JSON {
		_, err = os.Stdout.Write(body)
		return err
	}

	var st httpapi.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	fmt.Println(renderStatus(st, time.Now()))
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(lipgloss.Color("2"))
	badStyle    = cellStyle.Foreground(lipgloss.Color("1"))
)

func renderStatus(st httpapi.StatusResponse, now time.Time) string {
	names := make([]string, 0, len(st.Surfaces))
	for name := range st.Surfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		s := st.Surfaces[name]
		last := "-"
		if !s.Monitor.LastMessageAt.IsZero() {
			last = now.Sub(s.Monitor.LastMessageAt).Round(time.Second).String() + " ago"
		}
		problem := s.Error
		if problem == "" && s.Monitor.LastDisconnect != nil && !s.Connected {
			problem = s.Monitor.LastDisconnect.Error
		}
		rows = append(rows, []string{
			name,
			string(s.Monitor.State),
			strconv.FormatBool(s.Connected),
			strconv.Itoa(s.Monitor.ReconnectAttempts),
			strconv.FormatInt(s.Monitor.MessagesHandled, 10),
			last,
			problem,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SURFACE", "STATE", "CONNECTED", "RETRIES", "MESSAGES", "LAST MESSAGE", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(rows) {
				if rows[row][2] == "true" {
					return okStyle
				}
				return badStyle
			}
			return cellStyle
		})
	return fmt.Sprintf("%s\nUptime: %s", t.String(), st.Uptime)
}
