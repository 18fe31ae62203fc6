package room

// Palette is the fixed set of participant colours
var Palette = []string{
	"#2E6B6B",
	"#C97B49",
	"#C9A9C9",
	"#7B9E7B",
	"#C96B49",
	"#9B6BC9",
	"#E8A838",
	"#2E8B8B",
}

// pickColor returns a palette colour not in used, chosen with intn. Once the
// palette is exhausted any colour may repeat.
func pickColor(used map[string]bool, intn func(int) int) string {
	free := make([]string, 0, len(Palette))
	for _, c := range Palette {
		if !used[c] {
			free = append(free, c)
		}
	}
	if len(free) == 0 {
		return Palette[intn(len(Palette))]
	}
	return free[intn(len(free))]
}
