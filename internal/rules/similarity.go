package rules

// similarityRatio measures how alike two strings are as
// 2*matches/(len(a)+len(b)), with matches summed over the longest
// common substrings found recursively. 1 means identical, 0 means
// nothing in common.
func similarityRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	m := commonChars(a, b)
	return 2 * float64(m) / float64(len(a)+len(b))
}

// commonChars counts characters covered by the longest common
// substring and, recursively, by the best matches on either side of
// it.
func commonChars(a, b string) int {
	ai, bi, size := longestBlock(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += commonChars(a[:ai], b[:bi])
	total += commonChars(a[ai+size:], b[bi+size:])
	return total
}

func longestBlock(a, b string) (ai, bi, size int) {
	// row[j] is the length of the common suffix ending at a[i], b[j]
	row := make([]int, len(b)+1)
	for i := 0; i < len(a); i++ {
		prev := 0
		for j := 0; j < len(b); j++ {
			cur := row[j+1]
			if a[i] == b[j] {
				row[j+1] = prev + 1
				if row[j+1] > size {
					size = row[j+1]
					ai = i - size + 1
					bi = j - size + 1
				}
			} else {
				row[j+1] = 0
			}
			prev = cur
		}
	}
	return ai, bi, size
}
