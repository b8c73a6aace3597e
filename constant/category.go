package constant

// RoomCategory is the closed set of labels the vision model may return.
type RoomCategory string

const (
	CategoryExteriorFront RoomCategory = "exterior_front"
	CategoryEntryway      RoomCategory = "entryway"
	CategoryLivingRoom    RoomCategory = "living_room"
	CategoryKitchen       RoomCategory = "kitchen"
	CategoryDiningRoom    RoomCategory = "dining_room"
	CategoryBedroom       RoomCategory = "bedroom"
	CategoryBathroom      RoomCategory = "bathroom"
	CategoryOffice        RoomCategory = "office"
	CategoryLaundry       RoomCategory = "laundry"
	CategoryGarage        RoomCategory = "garage"
	CategoryBalcony       RoomCategory = "balcony"
	CategoryPool          RoomCategory = "pool"
	CategoryExteriorBack  RoomCategory = "exterior_back"
	CategoryOther         RoomCategory = "other"

	// CategoryErrors is a grouping bucket for images that failed processing.
	// The classifier never returns it.
	CategoryErrors RoomCategory = "errors"
)

type categoryInfo struct {
	label string
	color string
}

var categories = map[RoomCategory]categoryInfo{
	CategoryExteriorFront: {"Front Exterior", "#2E7D32"},
	CategoryEntryway:      {"Entryway", "#6D4C41"},
	CategoryLivingRoom:    {"Living Room", "#1565C0"},
	CategoryKitchen:       {"Kitchen", "#EF6C00"},
	CategoryDiningRoom:    {"Dining Room", "#AD1457"},
	CategoryBedroom:       {"Bedroom", "#5E35B1"},
	CategoryBathroom:      {"Bathroom", "#00838F"},
	CategoryOffice:        {"Office", "#455A64"},
	CategoryLaundry:       {"Laundry", "#8D6E63"},
	CategoryGarage:        {"Garage", "#546E7A"},
	CategoryBalcony:       {"Balcony", "#7CB342"},
	CategoryPool:          {"Pool", "#0277BD"},
	CategoryExteriorBack:  {"Back Exterior", "#388E3C"},
	CategoryOther:         {"Other", "#9E9E9E"},
	CategoryErrors:        {"Errors", "#C62828"},
}

// WalkthroughOrder is the presentation order of rooms in the final video.
var WalkthroughOrder = []RoomCategory{
	CategoryExteriorFront,
	CategoryEntryway,
	CategoryLivingRoom,
	CategoryKitchen,
	CategoryDiningRoom,
	CategoryBedroom,
	CategoryBathroom,
	CategoryOffice,
	CategoryLaundry,
	CategoryGarage,
	CategoryBalcony,
	CategoryPool,
	CategoryExteriorBack,
	CategoryOther,
}

// ClassifiableCategories returns the categories the vision model is allowed to answer with.
func ClassifiableCategories() []RoomCategory {
	out := make([]RoomCategory, len(WalkthroughOrder))
	copy(out, WalkthroughOrder)
	return out
}

// Valid reports whether c may be returned by the classifier.
func (c RoomCategory) Valid() bool {
	if c == CategoryErrors {
		return false
	}
	_, ok := categories[c]
	return ok
}

func (c RoomCategory) Label() string {
	if info, ok := categories[c]; ok {
		return info.label
	}
	return string(c)
}

func (c RoomCategory) Color() string {
	if info, ok := categories[c]; ok {
		return info.color
	}
	return categories[CategoryOther].color
}

// Rank is the category's index in WalkthroughOrder; unknown categories sort last.
func (c RoomCategory) Rank() int {
	for i, cat := range WalkthroughOrder {
		if cat == c {
			return i
		}
	}
	return len(WalkthroughOrder)
}
