package steam

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"steamwatch/internal/model"
)

// Profile is what a single profile page exposes.
type Profile struct {
	SteamID  string
	Name     string
	Avatar   string
	Activity string
}

var inlineSteamID = regexp.MustCompile(`"steamid"\s*:\s*"(\d{17})"`)

// ParseFriends extracts every .friend_block_v2[data-steamid] from a friends page.
func ParseFriends(page []byte) (map[string]model.Status, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	out := map[string]model.Status{}
	for _, block := range findAll(doc, classed("", "friend_block_v2")) {
		id := strings.TrimSpace(attr(block, "data-steamid"))
		if id == "" {
			continue
		}
		st := model.Status{EntityID: id}
		if content := findFirst(block, classed("div", "friend_block_content")); content != nil {
			st.DisplayName = firstText(content)
		}
		if st.DisplayName == "" {
			st.DisplayName = "unknown friend (" + id + ")"
		}
		if game := findFirst(block, classed("span", "friend_game_link")); game != nil {
			st.Activity = textContent(game)
		}
		if av := findFirst(block, classed("div", "player_avatar")); av != nil {
			st.AvatarRef = imgSrc(av)
		}
		out[id] = st
	}
	return out, nil
}

// ParseProfile extracts name, avatar, current game and steamID64 from a profile page.
func ParseProfile(page []byte) (Profile, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if n := findFirst(doc, classed("span", "actual_steamname")); n != nil {
		p.Name = textContent(n)
	} else if n := findFirst(doc, classed("div", "friends_header_name")); n != nil {
		p.Name = textContent(n)
	}
	if n := findFirst(doc, classed("div", "playerAvatarAutoSizeInner")); n != nil {
		p.Avatar = imgSrc(n)
	}
	if p.Avatar == "" {
		if n := findFirst(doc, classed("div", "friends_header_avatar")); n != nil {
			p.Avatar = imgSrc(n)
		}
	}
	if n := findFirst(doc, classed("div", "profile_in_game_name")); n != nil {
		p.Activity = textContent(n)
	}
	meta := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "meta" && attr(n, "property") == "steamID64"
	})
	if meta != nil {
		p.SteamID = strings.TrimSpace(attr(meta, "content"))
	}
	if p.SteamID == "" {
		if m := inlineSteamID.FindSubmatch(page); m != nil {
			p.SteamID = string(m[1])
		}
	}
	return p, nil
}

// fullAvatar upgrades a medium avatar URL to the full-size one.
func fullAvatar(src string) string {
	return strings.Replace(src, "_medium.jpg", "_full.jpg", 1)
}

func imgSrc(n *html.Node) string {
	img := findFirst(n, func(x *html.Node) bool { return x.Type == html.ElementNode && x.Data == "img" })
	if img == nil {
		return ""
	}
	return fullAvatar(strings.TrimSpace(attr(img, "src")))
}

// classed matches elements with tag (any tag when empty) carrying class.
func classed(tag, class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode || (tag != "" && n.Data != tag) {
			return false
		}
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if match(c) {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// textContent is the whitespace-collapsed text below n.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// firstText is the first direct, non-blank text child of n.
func firstText(n *html.Node) string {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			if s := strings.TrimSpace(c.Data); s != "" {
				return s
			}
		}
	}
	return ""
}
