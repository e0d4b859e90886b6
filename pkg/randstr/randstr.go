package randstr

import (
	"crypto/rand"
)

type generator struct {
	charset []byte
}

func New(charset []byte) *generator {
	return &generator{charset: charset}
}

func (g *generator) GenerateRandomString(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}

	for i, b := range buf {
		buf[i] = g.charset[int(b)%len(g.charset)]
	}

	return string(buf)
}
