package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/rules"
)

// sourceLine is one line of raw text with its byte offset in the file
type sourceLine struct {
	number int
	offset int
	text   string
}

// splitLines splits src into lines, dropping the line terminators
func splitLines(src []byte) []sourceLine {
	var lines []sourceLine
	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), len(src)+1)
	scanner.Split(scanRawLines)
	offset := 0
	for n := 1; scanner.Scan(); n++ {
		raw := scanner.Bytes()
		text := bytes.TrimSuffix(bytes.TrimSuffix(raw, []byte("\n")), []byte("\r"))
		lines = append(lines, sourceLine{number: n, offset: offset, text: string(text)})
		offset += len(raw)
	}
	return lines
}

// scanRawLines is bufio.ScanLines keeping the terminator in the token, so
// offsets stay exact on CRLF input
func scanRawLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// column converts a byte index within a line into a 1-based rune column
func column(text string, byteIndex int) int {
	return utf8.RuneCountInString(text[:byteIndex]) + 1
}

func lineSpan(path string, l sourceLine, start, end int) domain.Span {
	return domain.Span{
		File:        path,
		StartLine:   l.number,
		StartCol:    column(l.text, start),
		EndLine:     l.number,
		EndCol:      column(l.text, end),
		StartOffset: l.offset + start,
		EndOffset:   l.offset + end,
	}
}

// checkRegex evaluates one regex-category check line by line, yielding one
// issue per match
func checkRegex(ctx context.Context, def *rules.CheckDefinition, path string, lines []sourceLine, emit func(issue)) error {
	for _, l := range lines {
		if l.number%512 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		switch def.Kind {
		case rules.KindPattern:
			patterns := def.Patterns
			for _, re := range patterns {
				for _, loc := range re.FindAllStringIndex(l.text, -1) {
					if loc[0] == loc[1] {
						continue
					}
					emit(issue{
						def:     def,
						span:    lineSpan(path, l, loc[0], loc[1]),
						subject: l.text[loc[0]:loc[1]],
						message: messageOr(def, fmt.Sprintf("line matches pattern %s", re)),
					})
				}
			}

		case rules.KindLineLength:
			width := utf8.RuneCountInString(l.text)
			if width <= def.MaxLineLength {
				continue
			}
			span := lineSpan(path, l, 0, len(l.text))
			span.StartCol = def.MaxLineLength + 1
			emit(issue{
				def:     def,
				span:    span,
				message: messageOr(def, fmt.Sprintf("line is %d characters long, exceeding the limit of %d", width, def.MaxLineLength)),
			})

		case rules.KindNaming:
			for _, m := range def.Declaration.FindAllStringSubmatchIndex(l.text, -1) {
				if m[2] < 0 {
					continue
				}
				name := l.text[m[2]:m[3]]
				if def.Pattern.MatchString(name) {
					continue
				}
				noun := "function"
				if def.Target == rules.TargetStruct {
					noun = "struct"
				}
				emit(issue{
					def:     def,
					span:    lineSpan(path, l, m[2], m[3]),
					subject: name,
					message: messageOr(def, fmt.Sprintf("%s name '%s' does not match pattern %s", noun, name, def.Pattern)),
				})
			}

		case rules.KindUnsafeFunctions:
			re := def.UnsafeCallPattern()
			if re == nil {
				continue
			}
			for _, m := range re.FindAllStringSubmatchIndex(l.text, -1) {
				name := l.text[m[2]:m[3]]
				emit(issue{
					def:     def,
					span:    lineSpan(path, l, m[0], m[1]),
					subject: name,
					message: messageOr(def, fmt.Sprintf("call to unsafe function '%s'", name)),
				})
			}

		default:
			return fmt.Errorf("kind '%s' has no regex evaluation", def.Kind)
		}
	}
	return nil
}
