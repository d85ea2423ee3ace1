package protocol

// PluginLink advertises a design-tool integration on /plugins.json.
type PluginLink struct {
	ID   string `json:"id" yaml:"id" toml:"id"`
	Name string `json:"name" yaml:"name" toml:"name"`
	URL  string `json:"url" yaml:"url" toml:"url"`
}

// Plugin id constants. These double as the clientType each plugin pairs with.
const (
	PluginFigma    = "figma"
	PluginSketch   = "sketch"
	PluginAseprite = "aseprite"
)

// DefaultPlugins is served when the relay config does not list its own.
var DefaultPlugins = []PluginLink{
	{ID: PluginFigma, Name: "Figma", URL: "https://example.com/figma-plugin"},
	{ID: PluginSketch, Name: "Sketch", URL: "https://www.sketch.com/extensions/"},
	{ID: PluginAseprite, Name: "Aseprite", URL: "https://www.aseprite.org/"},
}
