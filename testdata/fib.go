package main

func fib(n int) int {
	if n <= 1 {
		return n
	}
	return fib(n-1) + fib(n-2)
}

func main() {
	result := 0
	for i := 0; i < 10; i++ {
		result = fib(30)
	}
	println("fib", result)
}
