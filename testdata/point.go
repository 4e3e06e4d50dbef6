package main

type Point struct {
	X, Y int32
}

func (p *Point) Move(dx, dy int32) {
	p.X += dx
	p.Y += dy
}

func (p Point) Dist() int32 {
	return abs(p.X) + abs(p.Y)
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func divmod(a, b uint32) (uint32, uint32) {
	return a / b, a % b
}

func main() {
	p := &Point{X: 1, Y: -2}
	p.Move(3, 4)
	q, r := divmod(17, 5)
	println(p.Dist(), q, r)
}
