// Package channelsync keeps auto-created channels one-to-one with the active
// streams of provider groups flagged for auto-sync, without ever touching
// user overrides or manually created channels.
package channelsync

// naturalLess compares strings treating digit runs as numbers, so
// "Channel 2" orders before "Channel 10". Comparison is byte-wise outside
// digit runs.
func naturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			// Compare the full digit runs numerically.
			ia, na := digitRun(a, i)
			ib, nb := digitRun(b, j)
			if na != nb {
				return na < nb
			}
			i, j = ia, ib
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// digitRun parses the digit run starting at i, returning the index past the
// run and its numeric value. Values saturate rather than overflow; catalogs
// do not carry 19-digit channel numbers.
func digitRun(s string, i int) (int, uint64) {
	var n uint64
	for i < len(s) && isDigit(s[i]) {
		d := uint64(s[i] - '0')
		if n > (1<<63)/10 {
			n = 1 << 63
		} else {
			n = n*10 + d
		}
		i++
	}
	return i, n
}
