package ir

// Global describes one module-level storage slot addressed by
// LoadGlobal/StoreGlobal.
type Global struct {
	ID   SymbolId
	Name string
	Type IrType
	Init IrValue
}

// Module is the top-level container produced by lowering: every
// function and extern function by ID, the globals table, the string
// interner, and the designated entry function.
type Module struct {
	Name       string
	Functions  map[FunctionId]*Function
	Externs    map[FunctionId]*ExternFunction
	Globals    map[SymbolId]*Global
	strings    *StringInterner
	EntryFunc  FunctionId
}

// NewModule creates an empty module ready for a Builder to populate.
func NewModule(name string) *Module {
	return &Module{
		Name:      name,
		Functions: make(map[FunctionId]*Function),
		Externs:   make(map[FunctionId]*ExternFunction),
		Globals:   make(map[SymbolId]*Global),
		strings:   newStringInterner(),
		EntryFunc: InvalidFunctionId,
	}
}

// Function looks up a defined function by ID, nil if absent or extern.
func (m *Module) Function(id FunctionId) *Function { return m.Functions[id] }

// Extern looks up an extern function record by ID.
func (m *Module) Extern(id FunctionId) *ExternFunction { return m.Externs[id] }

// AddGlobal registers a module-level global and returns its SymbolId.
func (m *Module) AddGlobal(name string, ty IrType, init IrValue) SymbolId {
	id := SymbolId(len(m.Globals))
	m.Globals[id] = &Global{ID: id, Name: name, Type: ty, Init: init}
	return id
}

// AddExtern registers an extern function with no body.
func (m *Module) AddExtern(name, linkName string, sig Signature) FunctionId {
	id := NextFunctionId()
	m.Externs[id] = &ExternFunction{ID: id, Name: name, Sig: sig, LinkName: linkName}
	return id
}

// Intern records s in the module's string table and returns its
// interned index, deduplicating repeats.
func (m *Module) Intern(s string) int { return m.strings.Intern(s) }

// StringAt returns the interned string at idx.
func (m *Module) StringAt(idx int) string { return m.strings.At(idx) }

// StringInterner deduplicates string constants across a module.
type StringInterner struct {
	table []string
	index map[string]int
}

func newStringInterner() *StringInterner {
	return &StringInterner{index: make(map[string]int)}
}

func (s *StringInterner) Intern(str string) int {
	if idx, ok := s.index[str]; ok {
		return idx
	}
	idx := len(s.table)
	s.table = append(s.table, str)
	s.index[str] = idx
	return idx
}

func (s *StringInterner) At(idx int) string {
	if idx < 0 || idx >= len(s.table) {
		return ""
	}
	return s.table[idx]
}
