// Copyright 2017 Cameron Bergoon
// https://github.com/cbergoon/merkletree
// Licensed under the MIT License, see LICENCE file for details.
// This code has been cleaned up, refactored, and turned into generics.

// Package merkle computes a merkle root over any type that knows how to
// hash itself. Blocks use it to produce their merkle_root from their
// transactions.
package merkle

import (
	"crypto/sha256"
	"errors"
	"hash"
)

// Hashable represents the behavior concrete data must exhibit to be used in
// the merkle tree.
type Hashable[T any] interface {
	Hash() ([]byte, error)
	Equals(other T) bool
}

// Tree computes a merkle root over data of some type T that exhibits the
// behavior defined by the Hashable constraint.
type Tree[T Hashable[T]] struct {
	MerkleRoot   []byte
	hashStrategy func() hash.Hash
}

// NewTree constructs a new merkle tree over data of some type T that
// exhibits the behavior defined by the Hashable interface.
func NewTree[T Hashable[T]](values []T) (*Tree[T], error) {
	t := Tree[T]{
		hashStrategy: sha256.New,
	}

	if err := t.Generate(values); err != nil {
		return nil, err
	}

	return &t, nil
}

// Generate computes the tree's MerkleRoot from the specified data. An odd
// number of leafs duplicates the last leaf; an odd-width level higher up
// pairs its last hash with itself.
func (t *Tree[T]) Generate(values []T) error {
	if len(values) == 0 {
		return errors.New("cannot construct tree with no content")
	}

	leafs := make([][]byte, 0, len(values))
	for _, value := range values {
		h, err := value.Hash()
		if err != nil {
			return err
		}
		leafs = append(leafs, h)
	}

	if len(leafs)%2 == 1 {
		leafs = append(leafs, leafs[len(leafs)-1])
	}

	root, err := t.buildIntermediate(leafs)
	if err != nil {
		return err
	}

	t.MerkleRoot = root
	return nil
}

// buildIntermediate folds a level of hashes into the next level up,
// recursing until a single root hash remains.
func (t *Tree[T]) buildIntermediate(level [][]byte) ([]byte, error) {
	var next [][]byte

	for i := 0; i < len(level); i += 2 {
		left, right := i, i+1
		if i+1 == len(level) {
			right = i
		}

		h := t.hashStrategy()
		if _, err := h.Write(append(append([]byte{}, level[left]...), level[right]...)); err != nil {
			return nil, err
		}

		next = append(next, h.Sum(nil))

		if len(level) == 2 {
			return next[0], nil
		}
	}

	return t.buildIntermediate(next)
}
