package mapping

// PropertyValue is one evaluated status property of a mapped block.
type PropertyValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// BlockValue is the mapped output of one function block: its evaluated
// status and configuration properties, in specification order.
type BlockValue struct {
	name        string
	order       []string
	status      map[string]PropertyValue
	configOrder []string
	config      map[string]PropertyValue
}

func newBlockValue(name string) *BlockValue {
	return &BlockValue{
		name:   name,
		status: make(map[string]PropertyValue),
		config: make(map[string]PropertyValue),
	}
}

// Name returns the block's name in the specification.
func (b *BlockValue) Name() string { return b.name }

// StatusProperty looks up an evaluated status property by name. The second
// return is false when the property is not present in this block's output.
func (b *BlockValue) StatusProperty(name string) (PropertyValue, bool) {
	pv, ok := b.status[name]
	return pv, ok
}

// ConfigurationProperty looks up an evaluated configuration property by name.
func (b *BlockValue) ConfigurationProperty(name string) (PropertyValue, bool) {
	pv, ok := b.config[name]
	return pv, ok
}

// Properties returns the block's evaluated status properties in
// specification order.
func (b *BlockValue) Properties() []PropertyValue {
	out := make([]PropertyValue, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.status[name])
	}
	return out
}

// ConfigurationProperties returns the block's evaluated configuration
// properties in specification order.
func (b *BlockValue) ConfigurationProperties() []PropertyValue {
	out := make([]PropertyValue, 0, len(b.configOrder))
	for _, name := range b.configOrder {
		out = append(out, b.config[name])
	}
	return out
}

func (b *BlockValue) put(pv PropertyValue) {
	if _, exists := b.status[pv.Name]; !exists {
		b.order = append(b.order, pv.Name)
	}
	b.status[pv.Name] = pv
}

func (b *BlockValue) putConfiguration(pv PropertyValue) {
	if _, exists := b.config[pv.Name]; !exists {
		b.configOrder = append(b.configOrder, pv.Name)
	}
	b.config[pv.Name] = pv
}

// Result is the typed output tree of one mapping invocation, mirroring the
// specification's shape. It is produced fresh per invocation and never
// mutated by the engine afterward.
type Result struct {
	infomodel string
	order     []string
	blocks    map[string]*BlockValue
}

func newResult(infomodel string) *Result {
	return &Result{infomodel: infomodel, blocks: make(map[string]*BlockValue)}
}

// Infomodel returns the specification's infomodel name.
func (r *Result) Infomodel() string { return r.infomodel }

// Get returns the mapped block by name, or nil when the block was omitted
// because none of its input paths were present in the payload.
func (r *Result) Get(name string) *BlockValue {
	return r.blocks[name]
}

// Blocks returns the mapped blocks in specification order.
func (r *Result) Blocks() []*BlockValue {
	out := make([]*BlockValue, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.blocks[name])
	}
	return out
}

// Document renders the result as a nested map, suitable for JSON encoding
// at the system boundary.
func (r *Result) Document() map[string]any {
	doc := make(map[string]any, len(r.blocks))
	for _, name := range r.order {
		block := r.blocks[name]
		status := make(map[string]any, len(block.status))
		for _, pname := range block.order {
			status[pname] = block.status[pname].Value
		}
		section := map[string]any{"status": status}
		if len(block.config) > 0 {
			config := make(map[string]any, len(block.config))
			for _, pname := range block.configOrder {
				config[pname] = block.config[pname].Value
			}
			section["configuration"] = config
		}
		doc[name] = section
	}
	return doc
}

func (r *Result) put(block *BlockValue) {
	if _, exists := r.blocks[block.name]; !exists {
		r.order = append(r.order, block.name)
	}
	r.blocks[block.name] = block
}
