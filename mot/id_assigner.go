package mot

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/arthurkushman/go-hungarian"
	"github.com/pkg/errors"
)

// MatchingAlgorithm is for algorithm type for matching detections to tracks
type MatchingAlgorithm uint16

const (
	// MatchingAlgorithmHungarian uses the Hungarian algorithm (Kuhn-Munkres) for optimal assignment
	MatchingAlgorithmHungarian MatchingAlgorithm = iota
	// MatchingAlgorithmGreedy uses a greedy algorithm for faster but potentially suboptimal assignment
	MatchingAlgorithmGreedy
)

// ParseMatchingAlgorithm accepts "hungarian" and "greedy"
func ParseMatchingAlgorithm(s string) (MatchingAlgorithm, error) {
	switch s {
	case "hungarian", "":
		return MatchingAlgorithmHungarian, nil
	case "greedy":
		return MatchingAlgorithmGreedy, nil
	default:
		return MatchingAlgorithmHungarian, errors.Errorf("unknown matching algorithm '%s'", s)
	}
}

// assignedBox is a short-lived ByteTrack state of person detection without upstream ID
type assignedBox struct {
	id        int64
	bbox      Rectangle
	predicted Point
	tracker   *kalman_filter.Kalman2D
	noMatch   int
}

func newAssignedBox(id int64, bbox Rectangle, dt float64) *assignedBox {
	center := bbox.Center()
	kf := kalman_filter.NewKalman2D(dt, 1.0, 1.0, 2.0, 0.1, 0.1, kalman_filter.WithState2D(center.X, center.Y))
	return &assignedBox{
		id:        id,
		bbox:      bbox,
		predicted: center,
		tracker:   kf,
	}
}

func (box *assignedBox) predict() {
	box.tracker.Predict()
	box.predicted.X, box.predicted.Y = box.tracker.GetState()
}

// predictedBBox returns bounding box centered on the predicted next position
func (box *assignedBox) predictedBBox() Rectangle {
	return Rectangle{
		X:      box.predicted.X - box.bbox.Width/2.0,
		Y:      box.predicted.Y - box.bbox.Height/2.0,
		Width:  box.bbox.Width,
		Height: box.bbox.Height,
	}
}

func (box *assignedBox) update(bbox Rectangle) error {
	box.bbox = bbox
	box.noMatch = 0
	center := bbox.Center()
	if err := box.tracker.Update(center.X, center.Y); err != nil {
		return errors.Wrap(err, "Can't update object tracker")
	}
	return nil
}

// ByteAssigner gives track IDs to person detections which came without ones (TrackID == 0).
// It is ByteTrack association: high confidence detections are matched first, then low confidence ones
// are matched against the remaining predicted boxes. Detections carrying upstream IDs are left untouched.
type ByteAssigner struct {
	params  AssignerParams
	persons map[int]struct{}
	nextID  int64
	Objects map[int64]*assignedBox
}

// NewByteAssigner creates assigner for person classes
func NewByteAssigner(params AssignerParams, personClasses []int) *ByteAssigner {
	persons := make(map[int]struct{}, len(personClasses))
	for _, c := range personClasses {
		persons[c] = struct{}{}
	}
	if params.KalmanDt <= 0 {
		params.KalmanDt = 1.0
	}
	return &ByteAssigner{
		params:  params,
		persons: persons,
		nextID:  params.FirstID,
		Objects: make(map[int64]*assignedBox),
	}
}

// boxPair is a helper struct to pair track ID with its bounding box.
type boxPair struct {
	ID   int64
	BBox Rectangle
}

// Assign sets TrackID of unlabeled person detections in place and returns detections without
// person ones left unlabeled (low confidence detections not matched to existing boxes).
// Zero confidence means "unknown" and is treated as certain.
func (a *ByteAssigner) Assign(detections []Detection) ([]Detection, error) {
	pending := make([]int, 0, len(detections))
	for i := range detections {
		if detections[i].TrackID != 0 {
			continue
		}
		if _, ok := a.persons[detections[i].ClassID]; !ok {
			continue
		}
		// Malformed boxes are left for the registry to skip
		if detections[i].BBox.Validate() != "" {
			continue
		}
		pending = append(pending, i)
	}

	// Predict next positions for all existing boxes via Kalman filter
	for _, box := range a.Objects {
		box.predict()
	}

	active := make([]boxPair, 0, len(a.Objects))
	for id, box := range a.Objects {
		active = append(active, boxPair{ID: id, BBox: box.predictedBBox()})
	}

	matchedBoxes := make(map[int64]struct{})
	matchedDetections := make(map[int]struct{})

	// 1. First stage: high confidence detections
	high := make([]int, 0, len(pending))
	for _, idx := range pending {
		if confidenceOf(detections[idx]) >= a.params.HighThreshold {
			high = append(high, idx)
		}
	}
	if err := a.associate(active, high, detections, matchedBoxes, matchedDetections); err != nil {
		return detections, errors.Wrap(err, "Stage 1")
	}

	// 2. Second stage: low confidence detections with remaining boxes
	remaining := make([]boxPair, 0, len(active))
	for _, pair := range active {
		if _, found := matchedBoxes[pair.ID]; !found {
			remaining = append(remaining, pair)
		}
	}
	low := make([]int, 0, len(pending))
	for _, idx := range pending {
		conf := confidenceOf(detections[idx])
		if conf < a.params.HighThreshold && conf >= a.params.LowThreshold {
			low = append(low, idx)
		}
	}
	if err := a.associate(remaining, low, detections, matchedBoxes, matchedDetections); err != nil {
		return detections, errors.Wrap(err, "Stage 2")
	}

	// 3. New boxes for unmatched high confidence detections
	for _, idx := range high {
		if _, found := matchedDetections[idx]; found {
			continue
		}
		a.nextID++
		box := newAssignedBox(a.nextID, detections[idx].BBox, a.params.KalmanDt)
		a.Objects[box.id] = box
		matchedBoxes[box.id] = struct{}{}
		detections[idx].TrackID = box.id
	}

	// 4. Age and drop boxes that have disappeared for too long
	for id, box := range a.Objects {
		if _, found := matchedBoxes[id]; found {
			continue
		}
		box.noMatch++
		if box.noMatch >= a.params.MaxDisappeared {
			delete(a.Objects, id)
		}
	}

	kept := detections[:0]
	for i, detection := range detections {
		if detection.TrackID == 0 && containsIndex(pending, i) {
			continue
		}
		kept = append(kept, detection)
	}
	return kept, nil
}

func containsIndex(sorted []int, idx int) bool {
	for _, v := range sorted {
		if v == idx {
			return true
		}
		if v > idx {
			return false
		}
	}
	return false
}

// Reset drops every box. Issued IDs are never reused.
func (a *ByteAssigner) Reset() {
	a.Objects = make(map[int64]*assignedBox)
}

func confidenceOf(d Detection) float64 {
	if d.Confidence == 0 {
		return 1
	}
	return d.Confidence
}

func (a *ByteAssigner) associate(boxes []boxPair, detectionIndices []int, detections []Detection, matchedBoxes map[int64]struct{}, matchedDetections map[int]struct{}) error {
	if len(boxes) == 0 || len(detectionIndices) == 0 {
		return nil
	}
	iouMatrix := createIoUMatrix(boxes, detectionIndices, detections)
	matches := a.performMatching(iouMatrix)
	for _, match := range matches {
		if !(iouMatrix[match[0]][match[1]] >= a.params.MinIoU) {
			continue
		}
		pair := boxes[match[0]]
		detIdx := detectionIndices[match[1]]
		box, ok := a.Objects[pair.ID]
		if !ok {
			continue
		}
		if err := box.update(detections[detIdx].BBox); err != nil {
			return errors.Wrapf(err, "Box %d", pair.ID)
		}
		detections[detIdx].TrackID = pair.ID
		matchedBoxes[pair.ID] = struct{}{}
		matchedDetections[detIdx] = struct{}{}
	}
	return nil
}

// createIoUMatrix returns IoU matrix: rows = boxes, columns = detections
func createIoUMatrix(boxes []boxPair, detectionIndices []int, detections []Detection) [][]float64 {
	iouMatrix := make([][]float64, len(boxes))
	for i, pair := range boxes {
		row := make([]float64, len(detectionIndices))
		for j, detIdx := range detectionIndices {
			row[j] = IoU(pair.BBox, detections[detIdx].BBox)
		}
		iouMatrix[i] = row
	}
	return iouMatrix
}

// performMatching returns pairs {boxIndex, detectionIndex} of IoU matrix
func (a *ByteAssigner) performMatching(iouMatrix [][]float64) [][2]int {
	if a.params.Algorithm == MatchingAlgorithmGreedy {
		return a.performGreedyMatching(iouMatrix)
	}
	numBoxes := len(iouMatrix)
	numDetections := len(iouMatrix[0])
	// Rectangular matrix is padded with zeros (lowest IoU) to make it square
	size := maxInt(numBoxes, numDetections)
	padded := make([][]float64, size)
	for i := range padded {
		padded[i] = make([]float64, size)
		if i < numBoxes {
			copy(padded[i], iouMatrix[i])
		}
	}
	assignments := hungarian.SolveMax(padded)
	matches := make([][2]int, 0, minInt(numBoxes, numDetections))
	for boxIdx, row := range assignments {
		for detIdx := range row {
			if boxIdx < numBoxes && detIdx < numDetections {
				matches = append(matches, [2]int{boxIdx, detIdx})
			}
		}
	}
	return matches
}

func (a *ByteAssigner) performGreedyMatching(iouMatrix [][]float64) [][2]int {
	matches := make([][2]int, 0)
	taken := make(map[int]struct{})
	for i, row := range iouMatrix {
		bestIoU := -1.0
		bestIdx := -1
		for j, iou := range row {
			if _, found := taken[j]; found {
				continue
			}
			if !(iou >= a.params.MinIoU) {
				continue
			}
			if iou > bestIoU {
				bestIoU = iou
				bestIdx = j
			}
		}
		if bestIdx != -1 {
			matches = append(matches, [2]int{i, bestIdx})
			taken[bestIdx] = struct{}{}
		}
	}
	return matches
}
