package main

func pick(xs *[4]uint8, i int) uint8 {
	return xs[i]
}

func main() {
	var xs [4]uint8
	for i := 0; i < len(xs); i++ {
		xs[i] = uint8(i * i)
	}
	println(pick(&xs, 3), xs[2])
}
