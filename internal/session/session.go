package session

import (
	"fmt"
	"time"
)

// Session 一次面试会话
// 由Controller独占持有：启动时创建，终态转换时释放
type Session struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	CandidateEmail string    `json:"candidate_email"`
	ChannelAddress string    `json:"channel_address"`
	CreatedAt      time.Time `json:"created_at"`
}

// CalibrationSet 标定图集：恰好4张有序静态图
// 顺序固定：正视、正视确认、极左、极右；采集后不可变，
// 会话启动时一次性、尽力而为地上传
type CalibrationSet struct {
	images [][]byte
}

// CalibrationImageCount 标定图数量
const CalibrationImageCount = 4

// NewCalibrationSet 创建标定图集
func NewCalibrationSet(images [][]byte) (*CalibrationSet, error) {
	if len(images) != CalibrationImageCount {
		return nil, fmt.Errorf("calibration set requires exactly %d images, got %d",
			CalibrationImageCount, len(images))
	}

	for i, img := range images {
		if len(img) == 0 {
			return nil, fmt.Errorf("calibration image %d is empty", i)
		}
	}

	copied := make([][]byte, len(images))
	for i, img := range images {
		copied[i] = append([]byte{}, img...)
	}

	return &CalibrationSet{images: copied}, nil
}

// Images 返回有序图像
func (c *CalibrationSet) Images() [][]byte {
	return c.images
}
