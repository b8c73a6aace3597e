package service

import (
	"sort"

	"worker-walkthrough/constant"
	"worker-walkthrough/entities"
)

// RoomGroup is a derived view over images sharing one category. It is rebuilt from the image
// rows every time and never stored.
type RoomGroup struct {
	Category          constant.RoomCategory `json:"category"`
	Label             string                `json:"label"`
	Color             string                `json:"color"`
	AverageConfidence float64               `json:"averageConfidence"`
	Images            []*entities.Image     `json:"images"`
}

// RoomID is the stable identifier used for the room's video record.
func (g RoomGroup) RoomID() string {
	return string(g.Category)
}

// BuildRoomGroups groups images by category in walkthrough order. Images without a
// classification land in "other"; images in error land in the trailing "errors" group.
func BuildRoomGroups(images []*entities.Image) []RoomGroup {
	buckets := make(map[constant.RoomCategory][]*entities.Image)
	for _, img := range images {
		category := constant.CategoryOther
		switch {
		case img.Status == constant.ImageStatusError:
			category = constant.CategoryErrors
		case img.Category.Valid():
			category = img.Category
		}
		buckets[category] = append(buckets[category], img)
	}

	order := append(constant.ClassifiableCategories(), constant.CategoryErrors)
	groups := make([]RoomGroup, 0, len(buckets))
	for _, category := range order {
		imgs, ok := buckets[category]
		if !ok {
			continue
		}
		sort.SliceStable(imgs, func(i, j int) bool { return imgs[i].Position < imgs[j].Position })

		group := RoomGroup{
			Category: category,
			Label:    category.Label(),
			Color:    category.Color(),
			Images:   imgs,
		}
		if category != constant.CategoryErrors {
			sum := 0.0
			for _, img := range imgs {
				sum += img.ConfidenceScore()
			}
			group.AverageConfidence = sum / float64(len(imgs))
		}
		groups = append(groups, group)
	}
	return groups
}

// generationGroups drops the errors bucket; those images cannot feed a clip.
func generationGroups(groups []RoomGroup) []RoomGroup {
	out := make([]RoomGroup, 0, len(groups))
	for _, g := range groups {
		if g.Category == constant.CategoryErrors {
			continue
		}
		out = append(out, g)
	}
	return out
}
