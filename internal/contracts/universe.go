package contracts

// UniverseEntry is one tracked underlying
// ⭐ SSOT: 추적 대상 기초자산 목록의 단위
type UniverseEntry struct {
	Symbol     string `json:"symbol"`
	ContractID int64  `json:"conid,omitempty"` // 0 = 아직 미확인
}

// Universe is the ordered, de-duplicated set of underlyings
type Universe struct {
	Entries []UniverseEntry `json:"entries"`
}

// Symbols returns the symbols in file order
func (u *Universe) Symbols() []string {
	out := make([]string, 0, len(u.Entries))
	for _, e := range u.Entries {
		out = append(out, e.Symbol)
	}
	return out
}

// Contains checks if a symbol is tracked
func (u *Universe) Contains(symbol string) bool {
	for _, e := range u.Entries {
		if e.Symbol == symbol {
			return true
		}
	}
	return false
}

// BackfillContractIDs fills empty conids from resolved ids; returns how many changed
func (u *Universe) BackfillContractIDs(resolved map[string]int64) int {
	changed := 0
	for i := range u.Entries {
		if u.Entries[i].ContractID != 0 {
			continue
		}
		if id, ok := resolved[u.Entries[i].Symbol]; ok && id > 0 {
			u.Entries[i].ContractID = id
			changed++
		}
	}
	return changed
}

// Count returns the number of tracked underlyings
func (u *Universe) Count() int {
	return len(u.Entries)
}
