package main

var counter uint64

var scale = 3.5

func init() {
	counter = 40
}

func bump() uint64 {
	counter += 2
	return counter
}

func main() {
	println(bump(), scale*2, counter > 41)
}
