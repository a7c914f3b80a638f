package steam

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"steamwatch/internal/model"
	logx "steamwatch/pkg/logx"
)

// Normalize maps user input to a cache key: community /id/ and /profiles/
// URLs lose the trailing slash, bare 17-digit ids starting with 7656 stay as
// they are, anything else is treated as a vanity name.
func (c *Client) Normalize(input string) string {
	return Normalize(input)
}

func Normalize(input string) string {
	s := strings.TrimSpace(input)
	if u, err := url.Parse(s); err == nil && u.Host == "steamcommunity.com" &&
		(strings.HasPrefix(u.Path, "/id/") || strings.HasPrefix(u.Path, "/profiles/")) {
		return strings.TrimRight(s, "/")
	}
	if isSteamID64(s) {
		return s
	}
	return DefaultBaseURL + "/id/" + s
}

func isSteamID64(s string) bool {
	if len(s) != 17 || !strings.HasPrefix(s, "7656") {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ProfileURL maps a normalized identifier to its profile page.
func ProfileURL(identifier string) string {
	if isSteamID64(identifier) {
		return DefaultBaseURL + "/profiles/" + identifier
	}
	return identifier
}

// Resolve fetches the profile behind a normalized identifier.
func (c *Client) Resolve(ctx context.Context, identifier string) (model.IdentityEntry, error) {
	profileURL := ProfileURL(identifier)
	if isSteamID64(identifier) {
		profileURL += "/"
	}
	body, err := c.fetch(ctx, profileURL)
	if err != nil {
		return model.IdentityEntry{}, fmt.Errorf("%w: %w", model.ErrNotFound, err)
	}
	p, err := ParseProfile(body)
	if err != nil || p.SteamID == "" {
		c.log.Warn("steamID64 missing from profile", logx.String("url", profileURL))
		return model.IdentityEntry{}, fmt.Errorf("%w: no steamID64 on %s", model.ErrNotFound, profileURL)
	}
	name := p.Name
	if name == "" {
		name = "unknown player"
	}
	c.log.Info("profile resolved", logx.String("input", identifier), logx.String("entity_id", p.SteamID))
	return model.IdentityEntry{EntityID: p.SteamID, DisplayName: name, AvatarRef: p.Avatar}, nil
}
