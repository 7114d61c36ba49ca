package tables

// Partition is the set of rows sharing one partition column value.
type Partition struct {
	Value string
	Null  bool
	Rows  []Row
}

// PartitionBuilder groups rows by one column, keeping partitions in
// first-encounter order and rows in input order within each partition.
type PartitionBuilder struct {
	index int
	order []*Partition
	byKey map[string]*Partition
	null  *Partition
}

// NewPartitionBuilder groups by the named column. A column missing from
// the schema puts every row in the null partition.
func NewPartitionBuilder(schema Schema, column string) *PartitionBuilder {
	return &PartitionBuilder{
		index: schema.Index(column),
		byKey: make(map[string]*Partition),
	}
}

func (b *PartitionBuilder) Add(row Row) {
	var v any
	if b.index >= 0 && b.index < len(row) {
		v = row[b.index]
	}

	if v == nil {
		if b.null == nil {
			b.null = &Partition{Null: true}
			b.order = append(b.order, b.null)
		}
		b.null.Rows = append(b.null.Rows, row)
		return
	}

	key := FormatValue(v)
	p, ok := b.byKey[key]
	if !ok {
		p = &Partition{Value: key}
		b.byKey[key] = p
		b.order = append(b.order, p)
	}
	p.Rows = append(p.Rows, row)
}

// Len returns the number of partitions seen so far.
func (b *PartitionBuilder) Len() int {
	return len(b.order)
}

// Flush returns the partitions and resets the builder.
func (b *PartitionBuilder) Flush() []Partition {
	out := make([]Partition, len(b.order))
	for i, p := range b.order {
		out[i] = *p
	}

	b.order = nil
	b.byKey = make(map[string]*Partition)
	b.null = nil
	return out
}
