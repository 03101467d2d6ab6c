package submit

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LatLng：前后端约定的经纬度对象
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func FromPoint(p orb.Point) LatLng { return LatLng{Lat: p.Lat(), Lng: p.Lon()} }

type BoundingBox struct {
	Southwest LatLng `json:"southwest"`
	Northeast LatLng `json:"northeast"`
}

type Coordinates struct {
	BoundingBox BoundingBox `json:"bounding_box"`
	Center      LatLng      `json:"center"`
}

// MapView：就绪时刻的渲染层状态（缩放级别与底图类型）
type MapView struct {
	Zoom      float64 `json:"zoom"`
	MapTypeID string  `json:"mapTypeId"`
}

// 文档注释：提交载荷（即后端的 metadata）
// 约束：每次提交新建，构建后不再修改；population 未连接时序列化为 null
type Payload struct {
	RegionID        string           `json:"wardId"`
	RegionName      string           `json:"wardName"`
	RegionNumber    string           `json:"wardNumber"`
	ParentGroupName string           `json:"districtName"`
	Population      *int64           `json:"population"`
	Coordinates     Coordinates      `json:"coordinates"`
	MapView         MapView          `json:"map_view"`
	Geometry        *geojson.Feature `json:"ward_geojson,omitempty"`
}

// NewCoordinates：由外包框生成 bounding_box 与 center
func NewCoordinates(b orb.Bound) Coordinates {
	return Coordinates{
		BoundingBox: BoundingBox{Southwest: FromPoint(b.Min), Northeast: FromPoint(b.Max)},
		Center:      FromPoint(b.Center()),
	}
}
