package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-walkthrough/constant"
	"worker-walkthrough/entities"
)

func TestBuildRoomGroups(t *testing.T) {
	images := []*entities.Image{
		{Position: 3, Category: constant.CategoryKitchen, Confidence: 80, Status: constant.ImageStatusAnalyzed},
		{Position: 0, Category: constant.CategoryBedroom, Confidence: 60, Status: constant.ImageStatusAnalyzed},
		{Position: 1, Category: constant.CategoryKitchen, Confidence: 90, Status: constant.ImageStatusAnalyzed},
		{Position: 2, Status: constant.ImageStatusError},
		{Position: 4, Status: constant.ImageStatusUploaded},
		{Position: 5, Category: constant.CategoryExteriorFront, Confidence: 99, Status: constant.ImageStatusAnalyzed},
	}

	groups := BuildRoomGroups(images)
	require.Len(t, groups, 5)

	var ids []string
	for _, g := range groups {
		ids = append(ids, g.RoomID())
	}
	assert.Equal(t, []string{"exterior_front", "kitchen", "bedroom", "other", "errors"}, ids)

	kitchen := groups[1]
	assert.Equal(t, "Kitchen", kitchen.Label)
	assert.NotEmpty(t, kitchen.Color)
	assert.InDelta(t, 0.85, kitchen.AverageConfidence, 1e-9)
	assert.Equal(t, 1, kitchen.Images[0].Position)
	assert.Equal(t, 3, kitchen.Images[1].Position)

	assert.Zero(t, groups[4].AverageConfidence)

	gen := generationGroups(groups)
	require.Len(t, gen, 4)
	assert.Equal(t, "other", gen[3].RoomID())
}

func TestBuildRoomGroups_Empty(t *testing.T) {
	assert.Empty(t, BuildRoomGroups(nil))
}
