package logix

import (
	"strings"

	"goenip/errs"
)

// parseBitAccess detects a trailing ".BitN" suffix on a tag path, per the
// "Name.BitN" grammar (0 <= N <= 31). Returns the base path with the
// suffix stripped, the bit index, and ok=true if a bit suffix was present.
// An index above 31 is reported as a Tag error. A suffix that is not
// "Bit" followed only by digits (e.g. "Bits" or "Bit2a") is not a bit
// access: ok is false and the path is returned unchanged.
func parseBitAccess(path string) (base string, bit int, ok bool, err error) {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 || dot == len(path)-1 {
		return path, 0, false, nil
	}
	suffix := path[dot+1:]
	if len(suffix) < 4 || suffix[:3] != "Bit" {
		return path, 0, false, nil
	}
	digits := suffix[3:]
	if digits == "" {
		return path, 0, false, nil
	}
	n := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return path, 0, false, nil
		}
		n = n*10 + int(c-'0')
	}
	if n > 31 {
		return "", 0, false, errs.New(errs.KindTag, "bit index %d out of range (Name.BitN requires 0 <= N <= 31): %q", n, path)
	}
	return path[:dot], n, true, nil
}
