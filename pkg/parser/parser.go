// Package parser implements the two-stage model-output parser: a strict
// tokenizer that locates the expected (Vehicle, Size) inside the model's
// raw text and reads the product IDs that follow it, and a forgiving
// fallback that just extracts digit-run IDs when the strict shape failed.
package parser

import (
	"regexp"
	"strings"

	"github.com/naddot/tyrerec/pkg/normalize"
	"github.com/naddot/tyrerec/pkg/types"
)

// digitToken matches a bare 7- or 8-digit integer token.
var digitToken = regexp.MustCompile(`^\d{7,8}$`)

// anyDigitOrDash matches a token that is either all digits (any length) or
// the literal placeholder "-".
var anyDigitOrDash = regexp.MustCompile(`^(?:\d+|-)$`)

// punctuationExceptHyphen strips punctuation other than hyphen, used by
// Stage B before digit-token extraction.
var punctuationExceptHyphen = regexp.MustCompile(`[^\w\s\-]`)

// slotCount is 24: 4 hotboxes + a 20-wide tail. Slot trimming to the final
// 20-wide Recommendation happens in ToRecommendationSlots, before backfill.
const slotCount = 24

// Result carries the parsed (Vehicle, Size, 24-slot product tail) tuple,
// passed to backfill exactly as extracted; the parser never deduplicates.
type Result struct {
	Vehicle string
	Size    string
	Slots   [slotCount]string
	Matched bool
}

// Parse runs Stage A then, on failure, Stage B. expectedVehicle/expectedSize
// are the CAM identity the parser is trying to locate in text.
func Parse(text, expectedVehicle, expectedSize string) Result {
	if r, ok := parseStrict(text, expectedVehicle, expectedSize); ok {
		return r
	}
	return parseForgiving(text, expectedVehicle, expectedSize)
}

// parseStrict implements Stage A: for every whitespace-tokenized split of
// (vehicle, size, products) with the smallest (v_end, s_len) winning,
// accept the first split whose vehicle/size compare-keys match and whose
// first 4 product tokens are each "-" or an all-digit token.
func parseStrict(text, expectedVehicle, expectedSize string) (Result, bool) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	wantVehicle := normalize.CompareKey(expectedVehicle)
	wantSize := normalize.CompareKey(expectedSize)

	for _, line := range lines {
		tokens := strings.Fields(strings.TrimSpace(line))
		n := len(tokens)
		if n < 6 {
			continue
		}

		for vEnd := 1; vEnd <= n-4; vEnd++ {
			for _, sLen := range []int{1, 2, 3} {
				after := vEnd + sLen
				if after > n {
					continue
				}
				vehicleCandidate := strings.Join(tokens[:vEnd], " ")
				sizeCandidate := strings.Join(tokens[vEnd:after], " ")
				productTokens := tokens[after:]

				if normalize.CompareKey(vehicleCandidate) != wantVehicle {
					continue
				}
				if normalize.CompareKey(sizeCandidate) != wantSize {
					continue
				}
				if !firstFourAreDigitsOrDash(productTokens) {
					continue
				}

				var slots [slotCount]string
				for i := range slots {
					slots[i] = "-"
				}
				copy(slots[:], productTokens)
				if len(productTokens) > slotCount {
					copy(slots[:], productTokens[:slotCount])
				}

				return Result{
					Vehicle: vehicleCandidate,
					Size:    sizeCandidate,
					Slots:   slots,
					Matched: true,
				}, true
			}
		}
	}
	return Result{}, false
}

// firstFourAreDigitsOrDash reports whether productTokens has at least 4
// entries and the first 4 are each "-" or an all-digit token.
func firstFourAreDigitsOrDash(productTokens []string) bool {
	if len(productTokens) < 4 {
		return false
	}
	for _, t := range productTokens[:4] {
		if !anyDigitOrDash.MatchString(t) {
			return false
		}
	}
	return true
}

// parseForgiving implements Stage B: require both the expected vehicle and
// size compare-keys to appear as substrings of the normalized output, then
// extract every 7/8-digit token in order (allowing "-" placeholders once at
// least one valid ID has been seen). Fails (Matched=false) if fewer than 4
// IDs were extracted.
func parseForgiving(text, expectedVehicle, expectedSize string) Result {
	normalizedOutput := normalize.CompareKey(text)
	wantVehicle := normalize.CompareKey(expectedVehicle)
	wantSize := normalize.CompareKey(expectedSize)

	if wantVehicle == "" || wantSize == "" {
		return Result{}
	}
	if !strings.Contains(normalizedOutput, wantVehicle) || !strings.Contains(normalizedOutput, wantSize) {
		return Result{}
	}

	cleaned := punctuationExceptHyphen.ReplaceAllString(text, " ")
	tokens := strings.Fields(cleaned)

	var extracted []string
	sawValidID := false
	for _, tok := range tokens {
		switch {
		case digitToken.MatchString(tok):
			extracted = append(extracted, tok)
			sawValidID = true
		case tok == "-" && sawValidID:
			extracted = append(extracted, tok)
		}
	}

	if len(extracted) < 4 {
		return Result{}
	}

	var slots [slotCount]string
	for i := range slots {
		slots[i] = "-"
	}
	n := copy(slots[:], extracted)
	_ = n

	return Result{
		Vehicle: expectedVehicle,
		Size:    expectedSize,
		Slots:   slots,
		Matched: true,
	}
}

// ToRecommendationSlots trims a parser's 24-slot result down to the
// 20-wide (4 HB + 16 SKU) shape that backfill operates on. Extra slots
// beyond 20 are dropped here because the parser owns the 24-wide
// intermediate representation.
func (r Result) ToRecommendationSlots() [types.SKUWidth]string {
	var out [types.SKUWidth]string
	copy(out[:], r.Slots[:types.SKUWidth])
	return out
}
