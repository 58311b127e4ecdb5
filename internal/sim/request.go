package sim

// Request mirrors the JSON body of a |request| protocol line. One of
// TeamPreview, ForceSwitch, Wait or Active describes the decision being
// asked of the side.
type Request struct {
	TeamPreview bool         `json:"teamPreview,omitempty"`
	ForceSwitch []bool       `json:"forceSwitch,omitempty"`
	Wait        bool         `json:"wait,omitempty"`
	Active      []ActiveSlot `json:"active,omitempty"`
	Side        RequestSide  `json:"side"`
	RQID        int          `json:"rqid"`
}

// ActiveSlot lists the usable moves of one active slot
type ActiveSlot struct {
	Moves []ActiveMove `json:"moves"`
}

// ActiveMove is one selectable move in an active slot
type ActiveMove struct {
	ID       string `json:"id"`
	Move     string `json:"move"`
	PP       int    `json:"pp"`
	MaxPP    int    `json:"maxpp"`
	Target   string `json:"target"`
	Disabled bool   `json:"disabled"`
}

// RequestSide describes the requesting side's full team state
type RequestSide struct {
	Name    string           `json:"name"`
	ID      string           `json:"id"`
	Pokemon []RequestPokemon `json:"pokemon"`
}

// RequestPokemon is one team slot as seen in a request
type RequestPokemon struct {
	Ident       string   `json:"ident"`
	Details     string   `json:"details"`
	Condition   string   `json:"condition"`
	Active      bool     `json:"active"`
	Moves       []string `json:"moves"`
	BaseAbility string   `json:"baseAbility,omitempty"`
	Item        string   `json:"item,omitempty"`
}

// Fainted reports whether the slot's condition marks it fainted.
func (p RequestPokemon) Fainted() bool {
	return len(p.Condition) >= 3 && p.Condition[len(p.Condition)-3:] == "fnt"
}
