package telegram

import (
	"fmt"
	"strings"

	"github.com/gammarips/overnightedge/internal/models"
	"github.com/gammarips/overnightedge/internal/signals"
)

const maxNewsLines = 3

func directionEmoji(d models.Direction) string {
	if d == models.Bearish {
		return "📉"
	}
	return "📈"
}

func formatHelp() string {
	lines := []string{
		"*Overnight Edge*",
		"",
		"/signals \\[BULLISH\\|BEARISH\\] " + escapeMarkdownV2("- tonight's signals"),
		"/detail TICKER " + escapeMarkdownV2("- full signal"),
		"/movers \\[N\\] " + escapeMarkdownV2("- top movers per direction"),
		"/themes " + escapeMarkdownV2("- market themes"),
	}
	return strings.Join(lines, "\n")
}

func formatError(e *signals.Error) string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	text := "🔒 " + escapeMarkdownV2(msg)
	if e.URL != "" {
		text += fmt.Sprintf("\n[See plans](%s)", e.URL)
	}
	return text
}

// formatSignals formats a signal listing into a Telegram MarkdownV2 message.
func formatSignals(resp *signals.SignalsResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🌙 *Overnight Signals* %s\n\n", escapeMarkdownV2(resp.ScanDate))

	if len(resp.Signals) == 0 {
		b.WriteString(escapeMarkdownV2("No signals for this scan."))
	}
	for i, s := range resp.Signals {
		fmt.Fprintf(&b, "%d\\. %s *%s* score %d", i+1, directionEmoji(s.Direction), escapeMarkdownV2(s.Ticker), s.OvernightScore)
		if s.CompanyName != "" {
			fmt.Fprintf(&b, " %s", escapeMarkdownV2(s.CompanyName))
		}
		if s.RecommendedContract != "" {
			fmt.Fprintf(&b, "\n   🎯 `%s`", escapeMarkdownV2(s.RecommendedContract))
		}
		b.WriteString("\n")
	}

	if resp.Upgrade != nil {
		fmt.Fprintf(&b, "\n_%s_\n", escapeMarkdownV2(resp.Upgrade.Message))
		for _, p := range resp.Upgrade.Plans {
			fmt.Fprintf(&b, "%s [%s](%s)\n", escapeMarkdownV2("•"), escapeMarkdownV2(p.Name+" "+p.Price), p.URL)
		}
	}
	return b.String()
}

func formatDetail(s *models.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* %s\n", directionEmoji(s.Direction), escapeMarkdownV2(s.Ticker), escapeMarkdownV2(string(s.Direction)))

	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, escapeMarkdownV2(value))
		}
	}
	line("Scan", s.ScanDate)
	line("Score", fmt.Sprintf("%d", s.OvernightScore))
	line("Company", s.CompanyName)
	line("Sector", s.Sector)
	if s.UnderlyingPrice > 0 {
		line("Price", fmt.Sprintf("$%.2f", s.UnderlyingPrice))
	}

	if s.RecommendedContract != "" {
		b.WriteString("\n🎯 *Contract*\n")
		fmt.Fprintf(&b, "`%s`\n", escapeMarkdownV2(s.RecommendedContract))
		if s.RecommendedStrike != nil {
			line("Strike", fmt.Sprintf("%.2f", *s.RecommendedStrike))
		}
		line("Expiration", s.RecommendedExpiration)
		if s.RecommendedMidPrice != nil {
			line("Mid", fmt.Sprintf("$%.2f", *s.RecommendedMidPrice))
		}
		if s.ContractScore != nil {
			line("Contract score", fmt.Sprintf("%.1f", *s.ContractScore))
		}
	}

	if s.CatalystSummary != "" {
		fmt.Fprintf(&b, "\n💡 %s\n", escapeMarkdownV2(s.CatalystSummary))
	}

	if len(s.News) > 0 {
		b.WriteString("\n📰 *News*\n")
		for i, n := range s.News {
			if i == maxNewsLines {
				break
			}
			if n.URL != "" {
				fmt.Fprintf(&b, "[%s](%s)\n", escapeMarkdownV2(n.Headline), n.URL)
			} else {
				fmt.Fprintf(&b, "%s\n", escapeMarkdownV2(n.Headline))
			}
		}
	}
	return b.String()
}

func formatMovers(m *models.TopMovers) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚀 *Top Movers* %s\n", escapeMarkdownV2(m.ScanDate))

	section := func(title string, movers []models.MoverSummary) {
		fmt.Fprintf(&b, "\n*%s*\n", title)
		if len(movers) == 0 {
			b.WriteString(escapeMarkdownV2("none") + "\n")
		}
		for i, mv := range movers {
			fmt.Fprintf(&b, "%d\\. *%s* %d", i+1, escapeMarkdownV2(mv.Ticker), mv.OvernightScore)
			if mv.CompanyName != "" {
				fmt.Fprintf(&b, " %s", escapeMarkdownV2(mv.CompanyName))
			}
			b.WriteString("\n")
		}
	}
	section("📈 Bullish", m.TopBullish)
	section("📉 Bearish", m.TopBearish)
	return b.String()
}

func formatThemes(resp *signals.ThemesResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧭 *Market Themes* %s\n\n", escapeMarkdownV2(resp.ScanDate))
	if len(resp.Themes) == 0 {
		b.WriteString(escapeMarkdownV2("No themes for this scan."))
	}
	for _, t := range resp.Themes {
		fmt.Fprintf(&b, "*%s*", escapeMarkdownV2(t.Name))
		if t.Sentiment != "" {
			fmt.Fprintf(&b, " %s", escapeMarkdownV2("("+t.Sentiment+")"))
		}
		b.WriteString("\n")
		if t.Summary != "" {
			fmt.Fprintf(&b, "%s\n", escapeMarkdownV2(t.Summary))
		}
		if len(t.Tickers) > 0 {
			fmt.Fprintf(&b, "`%s`\n", escapeMarkdownV2(strings.Join(t.Tickers, " ")))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
