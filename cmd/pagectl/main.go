// Command pagectl exercises and inspects a page heap.
package main

func main() {
	execute()
}
