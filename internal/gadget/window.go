package gadget

// Windows returns the candidate windows of a single run, shortest first:
// window i holds the last i bytes of the run followed by the terminator.
// maxLen caps the number of run bytes taken; zero means no cap.
func Windows(r Run, maxLen int) []Window {
	n := len(r.Tokens)
	if maxLen > 0 && maxLen < n {
		n = maxLen
	}
	out := make([]Window, 0, n)
	for i := 1; i <= n; i++ {
		toks := make([]Token, 0, i+1)
		toks = append(toks, r.Tokens[len(r.Tokens)-i:]...)
		toks = append(toks, r.Ret)
		out = append(out, Window{Tokens: toks})
	}
	return out
}

// Enumerate builds the windows of every run in evaluation order and numbers
// them. The number of windows grows with the square of the run lengths when
// no cap is set.
func Enumerate(runs []Run, maxLen int) []Window {
	var out []Window
	for ri, r := range runs {
		for _, w := range Windows(r, maxLen) {
			w.Seq = len(out)
			w.Run = ri
			out = append(out, w)
		}
	}
	return out
}
