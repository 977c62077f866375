package evidence

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// FileInfo 所选照片文件的身份（不含内容本身）
type FileInfo struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"`
	MediaType    string `json:"type"`
}

// Candidate 一次待提交的交付证据
type Candidate struct {
	ReceiverName string
	CompanyName  string
	File         *FileInfo
	SignaturePNG []byte
}

// fingerprintPayload 指纹输入。字段顺序固定，序列化结果才是确定的。
// 签名图先用同一个哈希折叠成短值，避免把整张图的字节塞进指纹输入。
type fingerprintPayload struct {
	Receptor      string   `json:"receptor"`
	Empresa       string   `json:"empresa"`
	File          FileInfo `json:"file"`
	SignatureHash string   `json:"signatureHash"`
}

// Fingerprint 计算提交候选的指纹。
// 任一必填字段缺失时返回 ("", false)：不完整的候选永远不计指纹，
// 既不会被误判为"新提交"也不会被误判为"重复提交"。
func Fingerprint(c Candidate) (string, bool) {
	receptor := strings.ToLower(strings.TrimSpace(c.ReceiverName))
	empresa := strings.ToLower(strings.TrimSpace(c.CompanyName))

	if receptor == "" || empresa == "" || c.File == nil || len(c.SignaturePNG) == 0 {
		return "", false
	}

	payload := fingerprintPayload{
		Receptor:      receptor,
		Empresa:       empresa,
		File:          *c.File,
		SignatureHash: fnv1aHex(c.SignaturePNG),
	}

	// struct 字段序列化顺序固定，Marshal 不会失败
	raw, _ := json.Marshal(payload)
	return fnv1aHex(raw), true
}

// fnv1aHex 32 位 FNV-1a，8 位零填充十六进制
func fnv1aHex(data []byte) string {
	h := fnv.New32a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%08x", h.Sum32())
}
