// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"sync"

	"github.com/daviszhen/jitquery/pkg/common"
)

// ColumnDef describes one column of a Table: its declared type, whether it
// may hold NULLs, and whether its segments are dictionary-encoded (and
// therefore eligible for the value-ID pushdown rewrite, spec §4.4).
type ColumnDef struct {
	ID         int
	Name       string
	Typ        common.DataType
	Nullable   bool
	Dictionary bool
}

// Table is an in-memory, chunked column store: a schema plus an ordered
// list of Chunks. Grounded on teacher pkg/storage/table.go, trimmed of
// on-disk block management and WAL integration (out of scope, spec §1).
type Table struct {
	Name    string
	Columns []ColumnDef
	Chunks  []*Chunk
}

func NewTable(name string, columns []ColumnDef) *Table {
	return &Table{Name: name, Columns: columns}
}

func (t *Table) AppendChunk(c *Chunk) {
	c.ID = len(t.Chunks)
	t.Chunks = append(t.Chunks, c)
}

func (t *Table) ChunkCount() int { return len(t.Chunks) }

func (t *Table) GetChunk(id int) *Chunk { return t.Chunks[id] }

func (t *Table) ColumnByID(id int) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return ColumnDef{}, false
}

func (t *Table) ColumnByName(name string) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// ColumnNullable satisfies jit.ColumnStore's column_is_nullable collaborator
// method (spec §6) without pkg/storage importing pkg/jit - Go interfaces
// are satisfied structurally.
func (t *Table) ColumnNullable(columnID int) bool {
	c, ok := t.ColumnByID(columnID)
	return ok && c.Nullable
}

// ColumnPosition maps a stable column ID to its index within a chunk's
// Segments slice (every chunk's segments follow t.Columns order).
func (t *Table) ColumnPosition(columnID int) (int, bool) {
	for i, c := range t.Columns {
		if c.ID == columnID {
			return i, true
		}
	}
	return -1, false
}

// ColumnDictionary satisfies jit.ColumnStore's dictionary-eligibility
// collaborator method (spec §4.4).
func (t *Table) ColumnDictionary(columnID int) bool {
	c, ok := t.ColumnByID(columnID)
	return ok && c.Dictionary
}

// Catalog is a name-keyed table registry, the minimal stand-in for the
// teacher's pkg/storage/catalog.go, not a DDL engine. The translator and
// the CLI do not use it: both are handed the *Table directly.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[string]*Table)}
}

func (c *Catalog) Register(t *Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tables[t.Name]; exists {
		return fmt.Errorf("storage: table %q already registered", t.Name)
	}
	c.tables[t.Name] = t
	return nil
}

func (c *Catalog) GetTable(name string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	return t, ok
}
