package route

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	truncatedMarker = "\n[source truncated: %d characters omitted]"
	requestMarker   = " [request truncated]"
)

type block struct {
	label string
	body  string
}

// compose joins the instruction, one labeled block per source and the
// request. When the result would exceed maxChars, blocks are cut down to a
// common level so the largest lose the most. If the fixed parts alone do not
// fit, the request is cut as well, and as a last resort the prompt itself;
// the result never exceeds maxChars.
func compose(instruction string, blocks []block, command string, maxChars int) string {
	if maxChars <= 0 {
		return render(instruction, blocks, command, false)
	}
	overhead := utf8.RuneCountInString(render(instruction, blocks, command, true))
	capBodies(blocks, maxChars-overhead)

	prompt := render(instruction, blocks, command, false)
	excess := utf8.RuneCountInString(prompt) - maxChars
	if excess <= 0 {
		return prompt
	}
	cmd := []rune(command)
	if keep := len(cmd) - excess - utf8.RuneCountInString(requestMarker); keep > 0 {
		prompt = render(instruction, blocks, string(cmd[:keep])+requestMarker, false)
	}
	if r := []rune(prompt); len(r) > maxChars {
		prompt = string(r[:maxChars])
	}
	return prompt
}

func render(instruction string, blocks []block, command string, skipBodies bool) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\n")
	for _, bl := range blocks {
		b.WriteString("=== ")
		b.WriteString(bl.label)
		b.WriteString(" ===\n")
		if !skipBodies {
			b.WriteString(bl.body)
		}
		b.WriteString("\n\n")
	}
	b.WriteString("Request: ")
	b.WriteString(command)
	return b.String()
}

// capBodies truncates bodies in place so their total length fits budget.
func capBodies(blocks []block, budget int) {
	if budget < 0 {
		budget = 0
	}
	sizes := make([]int, len(blocks))
	total, largest := 0, 0
	for i, bl := range blocks {
		sizes[i] = utf8.RuneCountInString(bl.body)
		total += sizes[i]
		largest = max(largest, sizes[i])
	}
	if total <= budget {
		return
	}

	// Find the highest level at which cutting every larger block fits.
	lo, hi := 0, largest
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if cappedTotal(sizes, mid) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	for i, bl := range blocks {
		if sizes[i] <= lo {
			continue
		}
		keep := max(lo-markerLen(sizes[i]), 0)
		runes := []rune(bl.body)
		blocks[i].body = string(runes[:keep]) + fmt.Sprintf(truncatedMarker, sizes[i]-keep)
	}
}

func cappedTotal(sizes []int, level int) int {
	total := 0
	for _, s := range sizes {
		if s <= level {
			total += s
			continue
		}
		keep := max(level-markerLen(s), 0)
		total += keep + utf8.RuneCountInString(fmt.Sprintf(truncatedMarker, s-keep))
	}
	return total
}

// markerLen bounds the marker length for a body of size characters.
func markerLen(size int) int {
	return utf8.RuneCountInString(fmt.Sprintf(truncatedMarker, size))
}
