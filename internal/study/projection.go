package study

import "github.com/tphakala/readerstudy/internal/datastore/entities"

// Position is the case a progress pointer refers to after block rollover.
type Position struct {
	Block       entities.Block
	Index       int
	CaseID      string
	BlockLength int
	Complete    bool
}

// IsLastInBlock reports whether the position is the final case of its block.
func (p Position) IsLastInBlock() bool {
	return !p.Complete && p.Index == p.BlockLength-1
}

// Project resolves a stored pointer against the frozen orders. An index at
// the end of block A rolls into the first case of block B; the end of block B
// means the session is complete. Project never writes anything.
func Project(orderA, orderB []string, block entities.Block, index int) Position {
	index = max(index, 0)

	if block != entities.BlockB {
		if index < len(orderA) {
			return Position{
				Block:       entities.BlockA,
				Index:       index,
				CaseID:      orderA[index],
				BlockLength: len(orderA),
			}
		}
		block, index = entities.BlockB, 0
	}

	if index < len(orderB) {
		return Position{
			Block:       entities.BlockB,
			Index:       index,
			CaseID:      orderB[index],
			BlockLength: len(orderB),
		}
	}
	return Position{Block: entities.BlockB, Index: len(orderB), BlockLength: len(orderB), Complete: true}
}

// blockOf returns the block whose order contains caseID.
func blockOf(orderA, orderB []string, caseID string) (entities.Block, bool) {
	for _, id := range orderA {
		if id == caseID {
			return entities.BlockA, true
		}
	}
	for _, id := range orderB {
		if id == caseID {
			return entities.BlockB, true
		}
	}
	return "", false
}
