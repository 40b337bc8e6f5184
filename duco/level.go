package duco

type VentilationLevel string

const (
	LevelHigh   VentilationLevel = "HIGH"
	LevelMedium VentilationLevel = "MEDIUM"
	LevelLow    VentilationLevel = "LOW"
	LevelAuto   VentilationLevel = "AUTO"
)

var overruleLevels = map[int]VentilationLevel{
	100: LevelHigh,
	50:  LevelMedium,
	0:   LevelLow,
	255: LevelAuto,
}

// LevelFromOverrule maps a raw overrule code to a level. Codes outside the
// known set report ok == false.
func LevelFromOverrule(code int) (VentilationLevel, bool) {
	level, ok := overruleLevels[code]
	return level, ok
}

// Overrule is the inverse of LevelFromOverrule.
func (l VentilationLevel) Overrule() (int, bool) {
	for code, level := range overruleLevels {
		if level == l {
			return code, true
		}
	}

	return 0, false
}
