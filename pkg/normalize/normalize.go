// Package normalize provides the canonicalization rules shared by every
// layer that compares or keys on a Vehicle or Size string: candidate
// lookups, prompt rendering, and output parsing all agree on the same
// normalization so that "Volkswagen Golf" and "volkswagen-golf" compare
// equal.
package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

// CompareKey lowercases s and strips every character that is not a-z or
// 0-9. Used wherever two free-form strings must be compared for semantic
// equality (parsed vehicle/size against the expected CAM).
func CompareKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SizeKey lowercases s and strips spaces. Used as the warehouse query key
// and the on-disk cache key component for size.
func SizeKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "")
}

// VehicleKey is the alphanumeric-only, lowercased form of a vehicle string.
// Used as the cache key component for vehicle and for prefetch-map lookups.
func VehicleKey(s string) string {
	return CompareKey(s)
}

// CacheKey returns the MD5 hex digest of "norm_size|norm_vehicle", the key
// under which the on-disk candidate cache stores a fetch result.
func CacheKey(size, vehicle string) string {
	sum := md5.Sum([]byte(SizeKey(size) + "|" + VehicleKey(vehicle)))
	return hex.EncodeToString(sum[:])
}

// sizeCorePattern matches the numeric/letter core of a tyre size string,
// e.g. "205/70R15", "225/40 ZR18", "31/10.50 R15", "7.50 R16", "31x10.50 R15".
var sizeCorePattern = regexp.MustCompile(`(?i)(\d{1,3}(?:[./]\d{1,2})?(?:[xX/]\d{1,2}(?:\.\d+)?)?)\s*(Z?R)\s*(\d{2})`)

// trailingLettersDigits finds a boundary between trailing letters and a
// following digit run, e.g. "Golf7" -> "Golf 7".
var trailingLettersDigits = regexp.MustCompile(`([A-Za-z])(\d)`)

// RepairResult is the outcome of RepairSize: a possibly-adjusted Vehicle
// string (if size-field text had to be reassigned to it) and a canonical
// Size string.
type RepairResult struct {
	Vehicle string
	Size    string
}

// RepairSize extracts the size core from a possibly-noisy size field and,
// if the size field carried leading model text (e.g. "GTI 205/55 R16"),
// moves that prefix into the vehicle string. It then inserts a space
// between trailing letters and digits in the vehicle, and normalizes the
// size to a single space before the R/ZR marker.
//
// RepairSize is a fixed point: calling it again on its own output yields
// the same CompareKey-equivalent size.
func RepairSize(vehicle, size string) RepairResult {
	trimmed := strings.TrimSpace(size)
	loc := sizeCorePattern.FindStringSubmatchIndex(trimmed)

	repaired := RepairResult{Vehicle: vehicle, Size: trimmed}

	if loc == nil {
		repaired.Vehicle = trailingLettersDigits.ReplaceAllString(strings.TrimSpace(vehicle), "$1 $2")
		return repaired
	}

	prefix := strings.TrimSpace(trimmed[:loc[0]])
	core := trimmed[loc[2]:loc[3]]
	marker := strings.ToUpper(trimmed[loc[4]:loc[5]])
	radius := trimmed[loc[6]:loc[7]]

	newVehicle := vehicle
	if prefix != "" {
		newVehicle = strings.TrimSpace(vehicle + " " + prefix)
	}
	repaired.Vehicle = trailingLettersDigits.ReplaceAllString(strings.TrimSpace(newVehicle), "$1 $2")
	repaired.Size = core + " " + marker + radius

	return repaired
}

// IsValidProductID reports whether s is a digits-only string of length 7
// or 8. The literal "-" is a placeholder and is never a valid ID.
func IsValidProductID(s string) bool {
	if len(s) != 7 && len(s) != 8 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
