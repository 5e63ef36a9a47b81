package study

import "math/rand/v2"

// Shuffler returns a permutation of ids without modifying the input.
type Shuffler func(ids []string) []string

// Shuffle returns a uniformly random permutation of ids (Fisher-Yates).
func Shuffle(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	for i := len(out) - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// caseOrders shuffles the candidates of both blocks independently.
func caseOrders(shuffle Shuffler, candidatesA, candidatesB []string) (orderA, orderB []string) {
	return shuffle(candidatesA), shuffle(candidatesB)
}
