package main

type midiContext interface {
	TryToOpenBy(namePrefix string, takeFirst bool) error
	Close()
}
