package pose

// LandmarkType identifies one of the 33 body keypoints by its model index
type LandmarkType int

const (
	Nose LandmarkType = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex
)

// NumLandmarks is the number of keypoints produced for one pose
const NumLandmarks = 33

var landmarkNames = [NumLandmarks]string{
	"nose", "left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear", "mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_pinky", "right_pinky",
	"left_index", "right_index", "left_thumb", "right_thumb",
	"left_hip", "right_hip", "left_knee", "right_knee",
	"left_ankle", "right_ankle", "left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

// Valid reports whether t is a known landmark index
func (t LandmarkType) Valid() bool {
	return t >= 0 && int(t) < NumLandmarks
}

// String returns the snake_case name of the landmark
func (t LandmarkType) String() string {
	if !t.Valid() {
		return "unknown"
	}
	return landmarkNames[t]
}

// Region groups landmarks by body part for coloring
type Region int

const (
	RegionOther Region = iota
	RegionFace
	RegionTorso
	RegionLeftArm
	RegionRightArm
	RegionLeftLeg
	RegionRightLeg
)

func (r Region) String() string {
	switch r {
	case RegionFace:
		return "face"
	case RegionTorso:
		return "torso"
	case RegionLeftArm:
		return "left_arm"
	case RegionRightArm:
		return "right_arm"
	case RegionLeftLeg:
		return "left_leg"
	case RegionRightLeg:
		return "right_leg"
	case RegionOther:
		return "other"
	}
	return "other"
}

// regions maps every landmark index to its body region. Built once at init.
var regions = func() [NumLandmarks]Region {
	var r [NumLandmarks]Region
	groups := map[Region][]LandmarkType{
		RegionFace: {
			Nose, LeftEyeInner, LeftEye, LeftEyeOuter, RightEyeInner, RightEye,
			RightEyeOuter, LeftEar, RightEar, MouthLeft, MouthRight,
		},
		RegionTorso:    {LeftShoulder, RightShoulder, LeftHip, RightHip},
		RegionLeftArm:  {LeftElbow, LeftWrist, LeftPinky, LeftIndex, LeftThumb},
		RegionRightArm: {RightElbow, RightWrist, RightPinky, RightIndex, RightThumb},
		RegionLeftLeg:  {LeftKnee, LeftAnkle, LeftHeel, LeftFootIndex},
		RegionRightLeg: {RightKnee, RightAnkle, RightHeel, RightFootIndex},
	}
	for region, members := range groups {
		for _, t := range members {
			r[t] = region
		}
	}
	return r
}()

// RegionOf returns the body region of a landmark
func RegionOf(t LandmarkType) Region {
	if !t.Valid() {
		return RegionOther
	}
	return regions[t]
}

var joints = [NumLandmarks]bool{
	LeftShoulder: true, RightShoulder: true,
	LeftElbow: true, RightElbow: true,
	LeftWrist: true, RightWrist: true,
	LeftHip: true, RightHip: true,
	LeftKnee: true, RightKnee: true,
	LeftAnkle: true, RightAnkle: true,
}

// IsJoint reports whether the landmark is drawn with joint emphasis
func IsJoint(t LandmarkType) bool {
	return t.Valid() && joints[t]
}

// Connection is a skeleton edge between two landmarks
type Connection struct {
	A, B LandmarkType
}

// Connections is the compact skeleton: torso, arms and legs.
var Connections = []Connection{
	// torso
	{LeftShoulder, RightShoulder},
	{LeftShoulder, LeftHip},
	{RightShoulder, RightHip},
	{LeftHip, RightHip},
	// arms
	{LeftShoulder, LeftElbow},
	{LeftElbow, LeftWrist},
	{RightShoulder, RightElbow},
	{RightElbow, RightWrist},
	// legs
	{LeftHip, LeftKnee},
	{LeftKnee, LeftAnkle},
	{RightHip, RightKnee},
	{RightKnee, RightAnkle},
}

// FullConnections adds face, hand and foot edges to Connections.
var FullConnections = append(append([]Connection{}, Connections...),
	Connection{Nose, LeftEyeInner},
	Connection{LeftEyeInner, LeftEye},
	Connection{LeftEye, LeftEyeOuter},
	Connection{LeftEyeOuter, LeftEar},
	Connection{Nose, RightEyeInner},
	Connection{RightEyeInner, RightEye},
	Connection{RightEye, RightEyeOuter},
	Connection{RightEyeOuter, RightEar},
	Connection{MouthLeft, MouthRight},
	Connection{LeftWrist, LeftPinky},
	Connection{LeftWrist, LeftIndex},
	Connection{LeftWrist, LeftThumb},
	Connection{LeftPinky, LeftIndex},
	Connection{RightWrist, RightPinky},
	Connection{RightWrist, RightIndex},
	Connection{RightWrist, RightThumb},
	Connection{RightPinky, RightIndex},
	Connection{LeftAnkle, LeftHeel},
	Connection{LeftHeel, LeftFootIndex},
	Connection{LeftAnkle, LeftFootIndex},
	Connection{RightAnkle, RightHeel},
	Connection{RightHeel, RightFootIndex},
	Connection{RightAnkle, RightFootIndex},
)
