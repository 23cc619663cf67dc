// Package caption renders the final post text from a completed draft.
//
// Build is a pure function: identical drafts produce byte-identical output.
// The rendered text never exceeds MaxLen runes; when the budget is blown,
// only the note block is shortened, everything else stays verbatim.
package caption

import (
	"fmt"
	"html"
	"strings"

	"subgate/internal/draft"
	"subgate/pkg/tgui"
)

// MaxLen is Telegram's caption limit, measured in code points.
const MaxLen = 1024

const (
	spoilerMark = "⚠️点击查看⚠️"
	noteHeader  = "📝 简介：\n"
	ellipsis    = "..."
)

type Options struct {
	// ShowSubmitter appends attribution linking the submitter's numeric id
	// to their captured username.
	ShowSubmitter bool
}

// Build renders the caption in HTML parse mode. User-supplied fields are
// escaped; the attribution anchor is the only raw markup.
func Build(d *draft.Draft, opt Options) string {
	var spoiler, link, title, tags, submitter string

	if d.Spoiler {
		spoiler = spoilerMark
	}
	if d.Link != "" {
		link = "🔗 链接： " + html.EscapeString(d.Link)
	}
	if d.Title != "" {
		title = "🔖 标题： \n【" + html.EscapeString(d.Title) + "】"
	}
	if d.Tags != "" {
		tags = "🏷 Tags: " + html.EscapeString(d.Tags)
	}
	if opt.ShowSubmitter {
		name := d.Username
		if name == "" {
			name = fmt.Sprintf("user%d", d.UserID)
		}
		submitter = "\n\n投稿人：" + tgui.Mention("@"+name, d.UserID).String()
	}

	note := ""
	if d.Note != "" {
		note = noteHeader + html.EscapeString(d.Note)
	}

	full := assemble(spoiler, submitter, link, title, note, tags)
	if tgui.RuneLen(full) <= MaxLen {
		return full
	}

	// Over budget: link, title, tags and attribution stay verbatim; only the
	// note gives way.
	fixed := joinParts(link, title, tags)
	// assemble puts "\n" after the spoiler mark whenever any body follows,
	// including a body that is only the note.
	prefix := spoiler
	if spoiler != "" && (fixed != "" || d.Note != "") {
		prefix = spoiler + "\n"
	}
	connector := ""
	if fixed != "" && d.Note != "" {
		connector = "\n"
	}
	available := MaxLen - tgui.RuneLen(prefix) - tgui.RuneLen(fixed) -
		tgui.RuneLen(connector) - tgui.RuneLen(submitter) -
		tgui.RuneLen(noteHeader) - tgui.RuneLen(ellipsis)

	note = ""
	if available > 0 && d.Note != "" {
		note = noteHeader + truncateEscaped(d.Note, available) + ellipsis
	}

	full = assemble(spoiler, submitter, link, title, note, tags)
	// Last resort; can only trigger when the fixed parts alone are oversized.
	return tgui.TruncRunes(full, MaxLen)
}

// assemble joins the body parts and attaches the spoiler line and the
// attribution suffix.
func assemble(spoiler, submitter string, bodyParts ...string) string {
	body := joinParts(bodyParts...)
	if body != "" {
		if spoiler != "" {
			return spoiler + "\n" + body + submitter
		}
		return body + submitter
	}
	if submitter != "" {
		return spoiler + submitter
	}
	return spoiler
}

func joinParts(parts ...string) string {
	keep := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			keep = append(keep, p)
		}
	}
	return strings.Join(keep, "\n")
}

// truncateEscaped trims raw so that its HTML-escaped form fits in avail
// runes. Trimming happens on the raw text, so no escape entity is ever cut
// in half.
func truncateEscaped(raw string, avail int) string {
	if avail <= 0 {
		return ""
	}
	r := []rune(raw)
	if len(r) > avail {
		// Escaping never shrinks text, so this is a safe first cut.
		r = r[:avail]
	}
	for len(r) > 0 {
		esc := html.EscapeString(string(r))
		if tgui.RuneLen(esc) <= avail {
			return esc
		}
		r = r[:len(r)-1]
	}
	return ""
}
