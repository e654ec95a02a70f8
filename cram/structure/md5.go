package structure

import "crypto/md5"

func md5Sum(data []byte) [16]byte {
	return md5.Sum(data)
}
