// Functions to support structures that need locking.

package util

import (
	"maps"
	"sync"
)

// MutexMap is a struct containing a map and a mutex. MutexMaps can use supporting functions to read and write data with appropriate locking.
type MutexMap[keyType comparable, valueType any] struct {
	innerMap map[keyType]valueType
	mutex    sync.RWMutex
}

// NewMutexMap returns a pointer to a new MutexMap.
func NewMutexMap[keyType comparable, valueType any]() *MutexMap[keyType, valueType] {
	return &MutexMap[keyType, valueType]{
		innerMap: make(map[keyType]valueType),
	}
}

// Get returns the value assigned to a given key in the mutex map, along with a bool indicating whether the key was found.
func (mutexMap *MutexMap[keyType, valueType]) Get(key keyType) (valueType, bool) {
	mutexMap.mutex.RLock()
	defer mutexMap.mutex.RUnlock()
	mapValue, ok := mutexMap.innerMap[key]
	return mapValue, ok
}

// Set adds a value to the mutex map with the given key and returns the key.
func (mutexMap *MutexMap[keyType, valueType]) Set(key keyType, value valueType) keyType {
	mutexMap.mutex.Lock()
	defer mutexMap.mutex.Unlock()
	mutexMap.innerMap[key] = value
	return key
}

// LoadOrStore returns the existing value for the key if present. Otherwise it
// stores and returns the given value. The bool is true if the value was loaded.
func (mutexMap *MutexMap[keyType, valueType]) LoadOrStore(key keyType, value valueType) (valueType, bool) {
	mutexMap.mutex.Lock()
	defer mutexMap.mutex.Unlock()
	if existing, ok := mutexMap.innerMap[key]; ok {
		return existing, true
	}
	mutexMap.innerMap[key] = value
	return value, false
}

// Delete deletes the key/value pair with the given key from the mutex map.
func (mutexMap *MutexMap[keyType, valueType]) Delete(key keyType) {
	mutexMap.mutex.Lock()
	defer mutexMap.mutex.Unlock()
	delete(mutexMap.innerMap, key)
}

// Pop removes the key and returns the value it held.
func (mutexMap *MutexMap[keyType, valueType]) Pop(key keyType) (valueType, bool) {
	mutexMap.mutex.Lock()
	defer mutexMap.mutex.Unlock()
	mapValue, ok := mutexMap.innerMap[key]
	if ok {
		delete(mutexMap.innerMap, key)
	}
	return mapValue, ok
}

// Clear removes every entry from the mutex map.
func (mutexMap *MutexMap[keyType, valueType]) Clear() {
	mutexMap.mutex.Lock()
	defer mutexMap.mutex.Unlock()
	clear(mutexMap.innerMap)
}

// Clone returns a copy of the inner map.
func (mutexMap *MutexMap[keyType, valueType]) Clone() map[keyType]valueType {
	mutexMap.mutex.RLock()
	defer mutexMap.mutex.RUnlock()
	return maps.Clone(mutexMap.innerMap)
}

// Values returns a snapshot of the values held by the map, in no particular order.
func (mutexMap *MutexMap[keyType, valueType]) Values() []valueType {
	mutexMap.mutex.RLock()
	defer mutexMap.mutex.RUnlock()
	values := make([]valueType, 0, len(mutexMap.innerMap))
	for _, v := range mutexMap.innerMap {
		values = append(values, v)
	}
	return values
}

// Range calls fn for every entry while holding the read lock. Iteration stops
// when fn returns false. fn must not write to the map.
func (mutexMap *MutexMap[keyType, valueType]) Range(fn func(key keyType, value valueType) bool) {
	mutexMap.mutex.RLock()
	defer mutexMap.mutex.RUnlock()
	for k, v := range mutexMap.innerMap {
		if !fn(k, v) {
			return
		}
	}
}

// Length returns the length of the mutex map.
func (mutexMap *MutexMap[keyType, valueType]) Length() int {
	mutexMap.mutex.RLock()
	defer mutexMap.mutex.RUnlock()
	return len(mutexMap.innerMap)
}
