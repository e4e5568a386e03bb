package posture

// Class is a posture category reported by the classifier
type Class string

const (
	AnteriorPelvicTilt  Class = "anterior_pelvic_tilt"
	ForwardHeadKyphosis Class = "forward_head_kyphosis"
	Normal              Class = "normal"
)

// Classes lists the categories in model output order
var Classes = []Class{AnteriorPelvicTilt, ForwardHeadKyphosis, Normal}

// Analysis is the guidance attached to a class
type Analysis struct {
	Status      string   `json:"status"`
	Severity    string   `json:"severity"`
	Problems    []string `json:"problems"`
	Suggestions []string `json:"suggestions"`
	Color       string   `json:"color"`
}

var analyses = map[Class]Analysis{
	Normal: {
		Status:   "Good",
		Severity: "low",
		Problems: []string{},
		Suggestions: []string{
			"Your posture looks good",
			"Keep sitting and standing upright",
			"Do light stretching regularly",
		},
		Color: "#4CAF50",
	},
	ForwardHeadKyphosis: {
		Status:   "Needs improvement",
		Severity: "medium",
		Problems: []string{
			"Head held too far forward (forward head posture)",
			"Rounded upper back (kyphosis)",
			"Can cause neck and back pain",
		},
		Suggestions: []string{
			"Chin tucks, 10-15 repetitions, 3 sets a day",
			"Raise the screen to eye level",
			"Strengthen the muscles at the back of the neck",
			"Wall angels to open the chest",
			"See a physiotherapist if the pain persists",
		},
		Color: "#FF9800",
	},
	AnteriorPelvicTilt: {
		Status:   "Needs improvement",
		Severity: "medium",
		Problems: []string{
			"Pelvis tilted forward (anterior pelvic tilt)",
			"Excessive lumbar lordosis",
			"Can cause lower back pain",
		},
		Suggestions: []string{
			"Strengthen the glutes and hamstrings",
			"Stretch the hip flexors and erector spinae",
			"Dead bugs for core stability",
			"Posterior pelvic tilt exercises",
			"Avoid sitting for long periods without a break",
		},
		Color: "#F44336",
	},
}

// Analyze returns the guidance for c. Unknown classes get the normal entry.
func Analyze(c Class) Analysis {
	if a, ok := analyses[c]; ok {
		return a
	}
	return analyses[Normal]
}
