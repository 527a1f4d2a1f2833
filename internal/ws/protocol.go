package ws

import "github.com/machinemetrics/shdr-adapter/internal/shdr"

// Item kinds reported by /api/items.
const (
	KindEvent     = "event"
	KindSample    = "sample"
	KindCondition = "condition"
)

// ItemView is the JSON form of a registered data item.
type ItemView struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	OwnLine bool     `json:"ownLine"`
	Lines   []string `json:"lines"`
}

func viewOf(di shdr.DataItem) ItemView {
	v := ItemView{Name: di.Name(), OwnLine: di.OwnLine()}
	switch di.(type) {
	case *shdr.Sample:
		v.Kind = KindSample
	case *shdr.Condition:
		v.Kind = KindCondition
	default:
		v.Kind = KindEvent
	}
	for _, r := range di.ItemList(true) {
		v.Lines = append(v.Lines, r.Render())
	}
	return v
}
