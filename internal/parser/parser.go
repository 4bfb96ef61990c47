// Package parser turns a WhatsApp plain-text export into ordered message
// records. It is a strict single forward pass over the input: a line either
// starts a new message (header pattern), continues the previous one, or is
// dropped with a warning. Output order equals transcript order; out-of-order
// timestamps are preserved as written, never resorted.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// SystemAuthor is the fixed author label assigned to transcript-generated
// notices (membership changes, encryption notices, etc.).
const SystemAuthor = "System"

// ErrMixedFormats is returned when a transcript mixes timestamp formats.
// The format is inferred once from the first parseable header line and must
// hold for the whole file.
var ErrMixedFormats = errors.New("transcript mixes timestamp formats")

// headerRe matches the start of a message line: "<date>, <time> - <rest>".
// Author/system classification happens after the match, on <rest>.
var headerRe = regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2,4}, \d{1,2}:\d{2}(?:\s?[AaPp][Mm])?) - (.+)$`)

// mediaFilenameRe matches the attachment filenames WhatsApp generates,
// e.g. IMG-20231201-WA0001.jpg.
var mediaFilenameRe = regexp.MustCompile(`(?i)((?:IMG|VID|PTT|DOC|STK)-\d{8}-WA\d{4,}\.\w+)`)

// mediaPlaceholders are the tokens WhatsApp inserts where an attachment was.
// Both the English and pt-BR export variants are in production data.
var mediaPlaceholders = []string{
	"(file attached)",
	"<Media omitted>",
	"(arquivo anexado)",
	"<Arquivo de mídia oculto>",
	"<Mídia oculta>",
}

// timestampLayouts are the supported export formats, month first. The 24-hour
// and meridiem families are mutually exclusive on any given input, so the
// first layout that parses the first header line locks the format.
var timestampLayouts = []string{
	"1/2/2006, 15:04",
	"1/2/06, 15:04",
	"1/2/2006, 3:04 PM",
	"1/2/06, 3:04 PM",
}

// Message is one parsed transcript message.
type Message struct {
	Timestamp     time.Time // normalized to UTC
	Author        string
	Text          string
	IsSystem      bool
	HasMedia      bool
	MediaFilename string // referenced attachment name, if one was found in the text
}

// Warning records a non-fatal parse anomaly. The run continues.
type Warning struct {
	Line   int
	Reason string
}

// Result is the outcome of parsing one transcript.
type Result struct {
	Messages []Message
	Warnings []Warning
}

// groupNameRes extract the group display name from the export filename, one
// pattern per export locale seen in production.
var groupNameRes = []*regexp.Regexp{
	regexp.MustCompile(`^WhatsApp Chat with (.+?)\.txt$`),
	regexp.MustCompile(`^Conversa do WhatsApp com (.+?)\.txt$`),
}

// FallbackGroupName is used when neither the filename nor the caller supplies
// a group name.
const FallbackGroupName = "Unknown Group"

// GroupNameFromFilename recovers the group display name from a transcript
// filename. When no export pattern matches, the caller's hint wins, then the
// fixed fallback.
func GroupNameFromFilename(filename, hint string) string {
	for _, re := range groupNameRes {
		if m := re.FindStringSubmatch(filename); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	if hint = strings.TrimSpace(hint); hint != "" {
		return hint
	}
	return FallbackGroupName
}

// Parse reads a transcript and returns its messages in transcript order.
// Continuation lines (no header) are appended to the preceding message with a
// line break. A continuation before any message is dropped with a warning.
// A fatal error is returned only for unreadable input or mixed timestamp
// formats; everything else degrades to warnings.
func Parse(r io.Reader) (*Result, error) {
	res := &Result{}

	var current *Message
	layout := "" // locked after the first parseable header line

	flush := func() {
		if current != nil {
			res.Messages = append(res.Messages, *current)
			current = nil
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024) // 10MB line buffer
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			// Continuation of the previous message.
			if current == nil {
				res.Warnings = append(res.Warnings, Warning{
					Line:   lineNo,
					Reason: "continuation line before any message header, dropped",
				})
				continue
			}
			current.Text += "\n" + line
			if !current.IsSystem {
				scanForMedia(current, line)
			}
			continue
		}

		rawTS, rest := m[1], m[2]

		ts, matched, err := parseTimestamp(rawTS, layout)
		if err != nil {
			if errors.Is(err, ErrMixedFormats) {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			// Header-shaped line with an unparseable timestamp: treat as
			// continuation, matching the original ingestion behavior.
			res.Warnings = append(res.Warnings, Warning{
				Line:   lineNo,
				Reason: fmt.Sprintf("unparseable timestamp %q", rawTS),
			})
			if current != nil {
				current.Text += "\n" + line
				if !current.IsSystem {
					scanForMedia(current, line)
				}
			}
			continue
		}
		layout = matched

		flush()

		author, text, system := splitAuthor(rest)
		msg := Message{
			Timestamp: ts,
			Author:    author,
			Text:      text,
			IsSystem:  system,
		}
		scanForMedia(&msg, text)

		if system {
			// System notices never carry attachments.
			msg.HasMedia = false
			msg.MediaFilename = ""
		}
		current = &msg
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}

	flush()
	return res, nil
}

// parseTimestamp parses raw against the locked layout, or infers one if no
// layout is locked yet. Returns the parsed time (UTC), the layout that
// matched, or an error. A post-lock line matching a different candidate
// layout is a mixed-format transcript and fatal.
func parseTimestamp(raw, locked string) (time.Time, string, error) {
	// Meridiem layouts need uppercase AM/PM for time.Parse.
	norm := strings.ToUpper(raw)

	if locked != "" {
		if ts, err := time.Parse(locked, norm); err == nil {
			return ts.UTC(), locked, nil
		}
		for _, l := range timestampLayouts {
			if l == locked {
				continue
			}
			if _, err := time.Parse(l, norm); err == nil {
				return time.Time{}, "", ErrMixedFormats
			}
		}
		return time.Time{}, "", fmt.Errorf("timestamp %q does not match transcript format", raw)
	}

	for _, l := range timestampLayouts {
		if ts, err := time.Parse(l, norm); err == nil {
			return ts.UTC(), l, nil
		}
	}
	return time.Time{}, "", fmt.Errorf("timestamp %q matches no supported format", raw)
}

// splitAuthor classifies the post-timestamp remainder of a header line.
// "author: text" is an authored message; anything without the separator is a
// system notice attributed to SystemAuthor.
func splitAuthor(rest string) (author, text string, system bool) {
	if idx := strings.Index(rest, ": "); idx > 0 {
		return strings.TrimSpace(rest[:idx]), strings.TrimSpace(rest[idx+2:]), false
	}
	return SystemAuthor, strings.TrimSpace(rest), true
}

// scanForMedia checks one line of message text for an attachment placeholder
// and referenced filename. The first hit wins; placeholders can appear on
// continuation lines as well as the header line.
func scanForMedia(msg *Message, line string) {
	if !msg.HasMedia {
		for _, p := range mediaPlaceholders {
			if strings.Contains(line, p) {
				msg.HasMedia = true
				break
			}
		}
	}
	if msg.MediaFilename == "" {
		if m := mediaFilenameRe.FindString(line); m != "" {
			msg.MediaFilename = m
			msg.HasMedia = true
		}
	}
}
