package browser

import "marketcrawl/pkg/config"

// Selectors locate the listing controls on the marketplace page
type Selectors struct {
	PartitionToggle   string
	CustomOption      string
	CustomOptionText  string
	MinInput          string
	MaxInput          string
	ConfirmButton     string
	ConfirmText       string
	NextPage          string
	NextDisabledClass string
}

// DefaultSelectors returns the selectors of the current marketplace layout
func DefaultSelectors() Selectors {
	return Selectors{
		PartitionToggle:   "#rc-tabs-0-panel-sale > div > div:nth-child(1) > div > div.left-cont___jQJRq > div:nth-child(2)",
		CustomOption:      "li, span, div",
		CustomOptionText:  "自定义",
		MinInput:          `div.input-box___ENjgN > input[type="text"]:nth-child(1)`,
		MaxInput:          `div.input-box___ENjgN > input[type="text"]:nth-child(3)`,
		ConfirmButton:     "div.btn2___x8GlT",
		ConfirmText:       "确认",
		NextPage:          "div.paginationItem___cPDSU.next___CBWi0",
		NextDisabledClass: "disabled___ncf6R",
	}
}

// WithOverrides replaces every selector that is set in cfg
func (s Selectors) WithOverrides(cfg config.SelectorConfig) Selectors {
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&s.PartitionToggle, cfg.PartitionToggle)
	override(&s.CustomOptionText, cfg.CustomOptionText)
	override(&s.MinInput, cfg.MinInput)
	override(&s.MaxInput, cfg.MaxInput)
	override(&s.ConfirmButton, cfg.ConfirmButton)
	override(&s.ConfirmText, cfg.ConfirmText)
	override(&s.NextPage, cfg.NextPage)
	override(&s.NextDisabledClass, cfg.NextDisabledClass)
	return s
}
