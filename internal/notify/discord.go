package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/chmdznr/worldbackup/internal/config"
	"github.com/chmdznr/worldbackup/internal/logging"
	"github.com/chmdznr/worldbackup/pkg/utils"
	"github.com/chmdznr/worldbackup/pkg/version"
)

const (
	discordColorSuccess = 3066993
	footerText          = "Stay safe and happy mining! ⛏️"
)

// Discord posts an embed to a webhook URL.
type Discord struct {
	url      string
	username string
	client   *http.Client
}

// NewDiscord returns a Discord notifier. A nil client gets one with the
// configured timeout.
func NewDiscord(cfg config.DiscordConfig, client *http.Client) *Discord {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Discord{url: cfg.WebhookURL, username: cfg.Username, client: client}
}

func (d *Discord) Name() string { return "discord" }

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

func buildDiscordPayload(username string, m Message) discordPayload {
	fields := []discordEmbedField{
		{Name: "📁 Backup Name", Value: "`" + m.BackupName + "`", Inline: true},
		{Name: "☁️ Storage", Value: m.StorageText(), Inline: true},
	}
	if m.Size > 0 {
		fields = append(fields, discordEmbedField{Name: "📦 Size", Value: utils.FormatSize(m.Size), Inline: true})
	}

	return discordPayload{
		Username: username,
		Embeds: []discordEmbed{{
			Title:       "✅ Minecraft Backup Completed",
			Description: "Your Minecraft world backup has been successfully created!",
			Color:       discordColorSuccess,
			Timestamp:   m.CreatedAt.UTC().Format(time.RFC3339),
			Fields:      fields,
			Footer:      &discordEmbedFooter{Text: footerText},
		}},
	}
}

// Notify posts the embed. Non-2xx responses are errors.
func (d *Discord) Notify(ctx context.Context, m Message) error {
	if d.url == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(buildDiscordPayload(d.username, m))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	logging.Debug().Str("backup", m.BackupName).Msg("Discord notification sent")
	return nil
}
