package gadget

// Segment splits a token stream at every terminator. Empty runs, produced by a
// leading terminator or by two adjacent ones, are dropped. Bytes after the
// last terminator still form a run; its terminator is synthesised one byte
// past the end so it can be enumerated like any other run.
func Segment(tokens []Token) []Run {
	var runs []Run
	start := 0
	for i, t := range tokens {
		if !t.IsTerminator() {
			continue
		}
		if i > start {
			runs = append(runs, Run{
				Tokens:     tokens[start:i],
				Ret:        t,
				Terminated: true,
			})
		}
		start = i + 1
	}

	if start < len(tokens) {
		last := tokens[len(tokens)-1]
		ret := Token{Hex: Terminator, Symbol: last.Symbol}
		if last.Addr != 0 {
			ret.Addr = last.Addr + 1
		}
		runs = append(runs, Run{Tokens: tokens[start:], Ret: ret})
	}
	return runs
}
