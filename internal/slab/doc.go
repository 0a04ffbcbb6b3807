// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package slab provides an index-addressed arena for lock-free structures.
//
// Entries are addressed by 32-bit indices and index 0 is reserved as nil, so
// an index and a 32-bit generation tag pack into a single 64-bit word that
// can be compared-and-swapped as one unit.
//
// Storage grows in segments of doubling size and is never handed back to the
// runtime while the slab is alive. A stale index therefore always refers to
// valid memory; reuse is detected by generation tags, not by faults.
package slab
